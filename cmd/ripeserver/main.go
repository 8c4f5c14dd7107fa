// Command ripeserver runs the detector behind an HTTP control API and
// serves annotated frames.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/grocky/ripeness-detector/internal/config"
	"github.com/grocky/ripeness-detector/internal/logging"
	"github.com/grocky/ripeness-detector/internal/pipeline"
)

// Version is the version of the build
var Version = "dev"

func main() {
	app := &cli.App{
		Name:    "ripeserver",
		Usage:   "control the ripeness detector over HTTP",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the YAML configuration"},
			&cli.StringFlag{Name: "addr", Usage: "listen address, overrides server.addr"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Action: serve,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	logger := logging.New(c.Bool("debug"), cfg.Logging)

	asm, err := pipeline.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer asm.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := pipeline.NewController(asm.Pipeline)
	var runs runLister
	if asm.Journal != nil {
		runs = asm.Journal
	}
	srv := newServer(ctx, cfg, ctrl, runs, logger)
	srv.start()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.Server.Addr).Info("serving control api")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	serveErr := g.Wait()

	// a listen failure leaves the signal context open; stop any run it started
	stop()
	// runs stop with ctx; wait for the source to be released
	if res, ok := ctrl.Wait(); ok {
		logger.WithFields(logrus.Fields{"run_id": res.RunID, "outcome": res.Outcome}).Info("last run ended")
	}
	return serveErr
}
