package detect

import (
	"bytes"
	"context"
	"fmt"

	"github.com/machinebox/sdk-go/objectbox"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Objectbox detects objects with a Machine Box objectbox instance.
type Objectbox struct {
	client *objectbox.Client
	logger logrus.FieldLogger
}

// NewObjectbox returns a detector talking to the box at addr, e.g.
// "http://localhost:8083".
func NewObjectbox(addr string, logger logrus.FieldLogger) *Objectbox {
	return &Objectbox{
		client: objectbox.New(addr),
		logger: logger.WithField("component", "objectbox"),
	}
}

// Describe reports the box build and status.
func (o *Objectbox) Describe() (string, error) {
	info, err := o.client.Info()
	if err != nil {
		return "", fmt.Errorf("could not get box info: %w", err)
	}
	return fmt.Sprintf("%s %s %s %d", info.Build, info.Name, info.Status, info.Version), nil
}

// Detect sends the frame as JPEG and flattens every detector's objects into
// regions.
func (o *Objectbox) Detect(_ context.Context, frame gocv.Mat) ([]Region, error) {
	buf, err := encodeJPEG(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	resp, err := o.client.Check(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("objectbox check: %w", err)
	}
	regions := regionsFromDetectors(resp.Detectors)
	o.logger.WithField("regions", len(regions)).Debug("objectbox check complete")
	return Sanitize(regions, frameBounds(frame)), nil
}

func regionsFromDetectors(detectors []objectbox.CheckDetectorResponse) []Region {
	var regions []Region
	for _, d := range detectors {
		for _, obj := range d.Objects {
			left, top := int(obj.Rect.Left), int(obj.Rect.Top)
			regions = append(regions, Region{
				X1: left,
				Y1: top,
				X2: left + int(obj.Rect.Width),
				Y2: top + int(obj.Rect.Height),
			})
		}
	}
	return regions
}
