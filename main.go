package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is the version of the build
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "ripeness",
		Usage:           "count ripe, unripe and overripe fruit in a video feed",
		Version:         Version,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "process frames until the source ends or the process is interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "read frames from a video `FILE`"},
					&cli.StringFlag{Name: "stream", Usage: "read frames from a stream `URL`"},
					&cli.BoolFlag{Name: "resolve", Usage: "resolve the stream URL with the configured resolver first"},
					&cli.BoolFlag{Name: "capture", Usage: "capture a region of the local display"},
					&cli.StringFlag{Name: "region", Usage: "capture region as `X,Y,W,H`"},
					&cli.IntFlag{Name: "display", Usage: "display index to capture"},
					&cli.DurationFlag{Name: "interval", Usage: "pause between frames"},
					&cli.IntFlag{Name: "max-frames", Usage: "stop after `N` frames"},
					&cli.IntFlag{Name: "prefetch", Usage: "read up to `N` frames ahead"},
					&cli.StringFlag{Name: "annotate", Usage: "write the latest annotated frame to `FILE`"},
					&cli.StringFlag{Name: "state", Usage: "counts file `PATH`"},
				},
				Action: runAction,
			},
			{
				Name:  "status",
				Usage: "print the current counts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "state", Usage: "counts file `PATH`"},
					&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "print every new snapshot"},
					&cli.BoolFlag{Name: "json", Usage: "print raw JSON"},
				},
				Action: statusAction,
			},
			{
				Name:  "history",
				Usage: "list recorded runs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "run journal `PATH`"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "show at most `N` runs"},
				},
				Action: historyAction,
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, Version)
					return nil
				},
			},
		},
	}
}
