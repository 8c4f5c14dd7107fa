package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// HTTPConfig configures an HTTP inference sidecar.
type HTTPConfig struct {
	// Address is the base URL, e.g. "http://localhost:8000".
	Address       string
	Timeout       time.Duration
	MinConfidence float64
	// Labels restricts results to these class names. Empty keeps all.
	Labels []string
}

// HTTP posts frames to a YOLO-style inference service:
//
//	POST {address}/detect {"image_data": "<base64 jpeg>", "min_confidence": 0.25}
//	-> {"success": true, "detections": [{"label": "pineapple", "confidence": 0.9,
//	    "bbox": {"x1": 10, "y1": 20, "x2": 110, "y2": 140}}]}
type HTTP struct {
	httpClient *http.Client
	baseURL    string
	cfg        HTTPConfig
	labels     map[string]bool
	logger     logrus.FieldLogger
}

// NewHTTP creates an HTTP detector client.
func NewHTTP(cfg HTTPConfig, logger logrus.FieldLogger) *HTTP {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	var labels map[string]bool
	if len(cfg.Labels) > 0 {
		labels = make(map[string]bool, len(cfg.Labels))
		for _, l := range cfg.Labels {
			labels[strings.ToLower(l)] = true
		}
	}
	return &HTTP{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.Address, "/"),
		cfg:        cfg,
		labels:     labels,
		logger:     logger.WithField("component", "http_detector"),
	}
}

type httpDetectRequest struct {
	ImageData     string  `json:"image_data"`
	MinConfidence float64 `json:"min_confidence"`
}

type httpDetectResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Detections []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		BBox       struct {
			X1 float64 `json:"x1"`
			Y1 float64 `json:"y1"`
			X2 float64 `json:"x2"`
			Y2 float64 `json:"y2"`
		} `json:"bbox"`
	} `json:"detections"`
}

// Detect sends one frame for inference.
func (h *HTTP) Detect(ctx context.Context, frame gocv.Mat) ([]Region, error) {
	img, err := encodeJPEG(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	regions, err := h.detectJPEG(ctx, img)
	if err != nil {
		return nil, err
	}
	return Sanitize(regions, frameBounds(frame)), nil
}

func (h *HTTP) detectJPEG(ctx context.Context, img []byte) ([]Region, error) {
	body, err := json.Marshal(httpDetectRequest{
		ImageData:     base64.StdEncoding.EncodeToString(img),
		MinConfidence: h.cfg.MinConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result httpDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Success {
		if result.Error == "" {
			result.Error = "unsuccessful response"
		}
		return nil, fmt.Errorf("detection failed: %s", result.Error)
	}

	regions := make([]Region, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.Confidence < h.cfg.MinConfidence {
			continue
		}
		if h.labels != nil && !h.labels[strings.ToLower(d.Label)] {
			continue
		}
		regions = append(regions, Region{
			X1:         int(d.BBox.X1),
			Y1:         int(d.BBox.Y1),
			X2:         int(d.BBox.X2),
			Y2:         int(d.BBox.Y2),
			Confidence: d.Confidence,
			Label:      d.Label,
		})
	}

	h.logger.WithFields(logrus.Fields{
		"regions": len(regions),
		"latency": time.Since(start),
	}).Debug("detection complete")
	return regions, nil
}
