package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"syncqueue/internal/config"
	"syncqueue/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 10 << 20

// HTTPTransport replays queued requests over HTTP. It never returns an error:
// any failure to obtain a response is reported as models.StatusNetworkError.
type HTTPTransport struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// New builds a transport from the remote section of the config.
func New(cfg config.RemoteConfig, logger *zerolog.Logger) *HTTPTransport {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "transport").Logger()
	}
	t := &HTTPTransport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     l,
	}
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}
	return t
}

// UseHTTPClient swaps the underlying client, e.g. one trusting a private CA.
// A client without its own timeout inherits the configured one.
func (t *HTTPTransport) UseHTTPClient(c *http.Client) {
	if c.Timeout == 0 {
		c.Timeout = t.httpClient.Timeout
	}
	t.httpClient = c
}

// Process sends req and returns the remote's status and body.
func (t *HTTPTransport) Process(ctx context.Context, req models.Request) models.HTTPResponse {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return networkError(err)
		}
	}

	httpReq, err := t.build(ctx, req)
	if err != nil {
		return networkError(err)
	}

	started := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		t.logger.Debug().Err(err).Str("url", httpReq.URL.String()).Msg("request failed")
		return networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return networkError(fmt.Errorf("read response: %w", err))
	}

	out := models.HTTPResponse{Status: resp.StatusCode, Body: string(body)}
	if !out.IsSuccess() {
		out.Error = string(body)
		if out.Error == "" {
			out.Error = resp.Status
		}
	}

	t.logger.Debug().
		Str("method", httpReq.Method).
		Str("url", httpReq.URL.String()).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(started)).
		Msg("request sent")
	return out
}

func (t *HTTPTransport) build(ctx context.Context, req models.Request) (*http.Request, error) {
	target := req.URL()
	if req.Host == "" {
		if t.baseURL == "" {
			return nil, fmt.Errorf("request %q has no host and no base url is configured", req.Path)
		}
		target = t.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// encodeBody sends JSON bodies as-is. For other serializers a JSON string body
// is unwrapped and sent as raw text.
func encodeBody(req models.Request) ([]byte, string, error) {
	if len(req.Body) == 0 || string(req.Body) == "null" {
		return nil, "", nil
	}

	serializer := strings.ToLower(strings.TrimSpace(req.Serializer))
	if serializer == "" || serializer == models.DefaultSerializer {
		return req.Body, "application/json", nil
	}

	var text string
	if err := json.Unmarshal(req.Body, &text); err == nil {
		return []byte(text), "text/plain; charset=utf-8", nil
	}
	return req.Body, "application/octet-stream", nil
}

func networkError(err error) models.HTTPResponse {
	return models.HTTPResponse{Status: models.StatusNetworkError, Error: err.Error()}
}
