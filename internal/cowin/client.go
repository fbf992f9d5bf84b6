// Package cowin is a client for the CoWIN public and appointment APIs.
package cowin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

const (
	defaultBaseURL   = "https://cdn-api.co-vin.in/api"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0 Safari/537.36"
	maxBodyBytes     = 8 << 20
)

// Config holds the client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	UserAgent  string
	OTPSecret  string // opaque "secret" sent with OTP generation requests
	HTTPClient *http.Client
	Limiter    *rate.Limiter // nil = unlimited
	Solver     CaptchaSolver
	Location   *time.Location // provider timezone
	Logger     *zap.Logger
}

// Client talks to the provider REST API.
type Client struct {
	baseURL   string
	userAgent string
	secret    string
	http      *http.Client
	limiter   *rate.Limiter
	solver    CaptchaSolver
	loc       *time.Location
	log       *zap.Logger
	now       func() time.Time
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		secret:    cfg.OTPSecret,
		http:      cfg.HTTPClient,
		limiter:   cfg.Limiter,
		solver:    cfg.Solver,
		loc:       cfg.Location,
		log:       cfg.Logger,
		now:       time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

type wireError struct {
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// do sends one request and returns the body of a 2xx response.
// Rate limits, 5xx and network failures wrap domain.ErrTransient;
// other non-2xx responses become *domain.UpstreamError.
func (c *Client) do(ctx context.Context, method, path, token string, reqBody any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrTransient, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrTransient, method, path, resp.StatusCode)
	default:
		return nil, parseUpstreamError(resp.StatusCode, raw)
	}
}

func parseUpstreamError(status int, body []byte) *domain.UpstreamError {
	e := &domain.UpstreamError{Status: status}
	var w wireError
	if json.Unmarshal(body, &w) == nil && (w.ErrorCode != "" || w.Error != "") {
		e.Code = w.ErrorCode
		e.Message = w.Error
		return e
	}
	e.Code = http.StatusText(status)
	e.Message = strings.TrimSpace(string(body))
	return e
}

func (c *Client) get(ctx context.Context, path, token string, result any) error {
	raw, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, token string, reqBody, result any) error {
	raw, err := c.do(ctx, http.MethodPost, path, token, reqBody)
	if err != nil {
		return err
	}
	if result == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// IsUnauthorized reports whether err is a rejected session token.
func IsUnauthorized(err error) bool {
	var ue *domain.UpstreamError
	return errors.As(err, &ue) && ue.Status == http.StatusUnauthorized
}
