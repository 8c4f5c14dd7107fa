package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"gocv.io/x/gocv"
)

// Stream reads frames from a URL-addressed network stream. Read failures are
// not retried.
type Stream struct {
	url    string
	video  *gocv.VideoCapture
	frames int
}

// OpenStream connects to a stream URL (rtsp://, http://, ...).
func OpenStream(url string) (*Stream, error) {
	video, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, fmt.Errorf("opening stream %s: %w", url, err)
	}
	if !video.IsOpened() {
		video.Close()
		return nil, fmt.Errorf("opening stream %s: not readable", url)
	}
	return &Stream{url: url, video: video}, nil
}

// Next reads the next frame.
func (s *Stream) Next(_ context.Context) (gocv.Mat, error) {
	frame := gocv.NewMat()
	if !s.video.Read(&frame) || frame.Empty() {
		return frame, fmt.Errorf("stream read failed after %d frames", s.frames)
	}
	s.frames++
	return frame, nil
}

// Close releases the connection.
func (s *Stream) Close() error {
	return s.video.Close()
}

// Resolver turns a page URL into a directly playable media URL.
type Resolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, url string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// CommandResolver runs an external tool such as yt-dlp and takes the first
// line it prints as the media URL.
type CommandResolver struct {
	Binary string
	Args   []string
}

// Resolve runs Binary Args... url.
func (c CommandResolver) Resolve(ctx context.Context, url string) (string, error) {
	args := append(append([]string(nil), c.Args...), url)
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", c.Binary, err, msg)
		}
		return "", fmt.Errorf("%s: %w", c.Binary, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", errors.New(c.Binary + ": no media url in output")
}
