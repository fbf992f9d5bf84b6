package cowin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CaptchaSolver turns a CAPTCHA SVG into its text.
type CaptchaSolver interface {
	Solve(ctx context.Context, svg string) (string, error)
}

// HTTPSolver posts the SVG to an external solving service that answers
// {"captcha": "<text>"}.
type HTTPSolver struct {
	URL    string
	Client *http.Client
}

// NewHTTPSolver returns a solver for url, or nil when url is empty.
func NewHTTPSolver(url string) CaptchaSolver {
	if url == "" {
		return nil
	}
	return &HTTPSolver{URL: url, Client: &http.Client{Timeout: 20 * time.Second}}
}

func (s *HTTPSolver) Solve(ctx context.Context, svg string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, strings.NewReader(svg))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/svg+xml")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("captcha solver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("captcha solver returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Captcha string `json:"captcha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode solver response: %w", err)
	}
	if out.Captcha == "" {
		return "", fmt.Errorf("captcha solver returned empty text")
	}
	return out.Captcha, nil
}
