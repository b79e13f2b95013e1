package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hemoscan/pkg/models"
)

// Client is an HTTP Service implementation against a remote inference server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the inference server at baseURL.
// timeout bounds each Analyze call end to end.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	ImageURI   string            `json:"image_uri"`
	SampleType models.SampleType `json:"sample_type"`
}

type analyzeResponse struct {
	Confidence        int    `json:"confidence"`
	ParasitesDetected bool   `json:"parasites_detected"`
	ParasiteCount     int    `json:"parasite_count"`
	RBCCount          int    `json:"rbc_count"`
	Error             string `json:"error,omitempty"`
}

// Analyze submits one image for inference.
func (c *Client) Analyze(ctx context.Context, imageURI string, sampleType models.SampleType) (models.AnalysisResult, error) {
	body, err := json.Marshal(analyzeRequest{ImageURI: imageURI, SampleType: sampleType})
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: encode request: %v", ErrAnalysis, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return models.AnalysisResult{}, ErrTimeout
		}
		return models.AnalysisResult{}, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Debug().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Analysis server error")
		return models.AnalysisResult{}, fmt.Errorf("%w: server returned %d", ErrAnalysis, resp.StatusCode)
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: decode response: %v", ErrAnalysis, err)
	}
	if out.Error != "" {
		return models.AnalysisResult{}, fmt.Errorf("%w: %s", ErrAnalysis, out.Error)
	}

	return models.AnalysisResult{
		ImageURI:          imageURI,
		Confidence:        out.Confidence,
		ParasitesDetected: out.ParasitesDetected,
		ParasiteCount:     out.ParasiteCount,
		RBCCount:          out.RBCCount,
		Timestamp:         time.Now(),
	}, nil
}

// isClientTimeout reports whether err is an http client timeout.
func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
