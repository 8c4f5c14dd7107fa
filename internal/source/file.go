package source

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"
)

// File decodes frames from a stored video. A failed read is treated as the
// end of the video.
type File struct {
	path   string
	video  *gocv.VideoCapture
	frames int
}

// OpenFile opens a video file for sequential decoding.
func OpenFile(path string) (*File, error) {
	video, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening video %s: %w", path, err)
	}
	if !video.IsOpened() {
		video.Close()
		return nil, fmt.Errorf("opening video %s: not readable", path)
	}
	return &File{path: path, video: video}, nil
}

// Next decodes the next frame or returns *EndOfStream.
func (f *File) Next(_ context.Context) (gocv.Mat, error) {
	frame := gocv.NewMat()
	if !f.video.Read(&frame) || frame.Empty() {
		return frame, &EndOfStream{Frames: f.frames}
	}
	f.frames++
	return frame, nil
}

// Close releases the decoder.
func (f *File) Close() error {
	return f.video.Close()
}
