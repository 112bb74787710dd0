// Package captcha resolves captcha images to text. The automatic path calls
// an external OCR service; the manual path is driven by the login
// orchestrator through the prompt channel.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dsts/loginbot/pkg/logging"
)

// Recognizer resolves a captcha image URL to text. Implementations are
// best-effort: an empty result with a nil error means the service answered
// but recognized nothing.
type Recognizer interface {
	Recognize(ctx context.Context, imageURL string) (string, error)
}

// OCRConfig configures the OCR HTTP client.
type OCRConfig struct {
	// Endpoint is the OCR service URL.
	Endpoint string
	// APIKey is sent in the x-rapidapi-key header.
	APIKey string
	// APIHost is sent in the x-rapidapi-host header.
	APIHost string
	// Timeout bounds one OCR request.
	Timeout time.Duration
}

// OCRClient calls an OCR-over-HTTP service that accepts the image URL as a
// query parameter and answers {"text": "..."}.
type OCRClient struct {
	cfg    OCRConfig
	client *http.Client
	log    *logging.Logger
}

var _ Recognizer = (*OCRClient)(nil)

// NewOCRClient creates an OCR client.
func NewOCRClient(cfg OCRConfig) *OCRClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	log, _ := logging.NewLogger("captcha")
	return &OCRClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Recognize sends the captcha image URL to the OCR service. Transport
// errors and non-2xx responses are returned as errors; callers treat both
// as soft failures. Whitespace inside the recognized text is stripped
// because captcha answers never contain spaces.
func (c *OCRClient) Recognize(ctx context.Context, imageURL string) (string, error) {
	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid OCR endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("url", imageURL)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build OCR request: %w", err)
	}
	req.Header.Set("x-rapidapi-key", c.cfg.APIKey)
	req.Header.Set("x-rapidapi-host", c.cfg.APIHost)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warnf("OCR request failed: %v", err)
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warnf("OCR service returned status %d", resp.StatusCode)
		return "", fmt.Errorf("OCR service returned status %d", resp.StatusCode)
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}

	text := strings.TrimSpace(strings.ReplaceAll(body.Text, " ", ""))
	c.log.Debugf("OCR recognized %q", text)
	return text, nil
}
