package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/machinebox/sdk-go/objectbox"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestSanitize(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	in := []Region{
		{X1: 10, Y1: 10, X2: 50, Y2: 40, Confidence: 0.9},
		{X1: 10, Y1: 10, X2: 10, Y2: 40},   // zero width
		{X1: 10, Y1: 40, X2: 50, Y2: 40},   // zero height
		{X1: 60, Y1: 10, X2: 20, Y2: 40},   // inverted
		{X1: 90, Y1: 70, X2: 130, Y2: 120}, // partly outside
		{X1: 200, Y1: 200, X2: 220, Y2: 230},
		{X1: -20, Y1: -20, X2: 0, Y2: 0},
	}
	out := Sanitize(in, bounds)
	require.Len(t, out, 2)
	assert.Equal(t, Region{X1: 10, Y1: 10, X2: 50, Y2: 40, Confidence: 0.9}, out[0])
	assert.Equal(t, Region{X1: 90, Y1: 70, X2: 100, Y2: 80}, out[1])

	// input is left untouched
	assert.Equal(t, 130, in[4].X2)
}

func TestSanitizeEmpty(t *testing.T) {
	assert.Empty(t, Sanitize(nil, image.Rect(0, 0, 10, 10)))
}

func TestRegionsFromDetectors(t *testing.T) {
	var detectors []objectbox.CheckDetectorResponse
	raw := `[
		{"objects": [
			{"rect": {"top": 5, "left": 10, "width": 20, "height": 30}},
			{"rect": {"top": 0, "left": 0, "width": 4, "height": 4}}
		]},
		{"objects": []}
	]`
	require.NoError(t, json.Unmarshal([]byte(raw), &detectors))

	regions := regionsFromDetectors(detectors)
	require.Len(t, regions, 2)
	assert.Equal(t, Region{X1: 10, Y1: 5, X2: 30, Y2: 35}, regions[0])
	assert.Equal(t, Region{X1: 0, Y1: 0, X2: 4, Y2: 4}, regions[1])
}

func TestHTTPDetect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req httpDetectRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		img, err := base64.StdEncoding.DecodeString(req.ImageData)
		assert.NoError(t, err)
		assert.NotEmpty(t, img)
		assert.Equal(t, 0.5, req.MinConfidence)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "detections": [
			{"label": "pineapple", "confidence": 0.9, "bbox": {"x1": 1, "y1": 2, "x2": 30, "y2": 40}},
			{"label": "pineapple", "confidence": 0.2, "bbox": {"x1": 1, "y1": 2, "x2": 30, "y2": 40}},
			{"label": "person", "confidence": 0.95, "bbox": {"x1": 1, "y1": 2, "x2": 30, "y2": 40}},
			{"label": "Pineapple", "confidence": 0.8, "bbox": {"x1": 50, "y1": 50, "x2": 500, "y2": 500}},
			{"label": "pineapple", "confidence": 0.8, "bbox": {"x1": 5, "y1": 5, "x2": 5, "y2": 9}}
		]}`))
	}))
	defer server.Close()

	d := NewHTTP(HTTPConfig{
		Address:       server.URL + "/",
		MinConfidence: 0.5,
		Labels:        []string{"pineapple"},
	}, testLogger())

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 200, 0, 0), 64, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	regions, err := d.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, Region{X1: 1, Y1: 2, X2: 30, Y2: 40, Confidence: 0.9, Label: "pineapple"}, regions[0])
	assert.Equal(t, Region{X1: 50, Y1: 50, X2: 64, Y2: 64, Confidence: 0.8, Label: "Pineapple"}, regions[1])
}

func TestHTTPDetectFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, ``},
		{"malformed", http.StatusOK, `{"detections": [`},
		{"unsuccessful", http.StatusOK, `{"success": false, "error": "model not loaded"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(c.payload))
			}))
			defer server.Close()

			d := NewHTTP(HTTPConfig{Address: server.URL}, testLogger())
			_, err := d.detectJPEG(context.Background(), []byte{0xff, 0xd8})
			assert.Error(t, err)
		})
	}
}

func TestFunc(t *testing.T) {
	want := []Region{{X1: 0, Y1: 0, X2: 1, Y2: 1}}
	var d Detector = Func(func(context.Context, gocv.Mat) ([]Region, error) { return want, nil })
	frame := gocv.NewMat()
	defer frame.Close()
	got, err := d.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
