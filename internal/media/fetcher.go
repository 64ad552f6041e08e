package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"chatvault/internal/arc"
)

// Fetcher opens attachment bytes for streaming. The caller closes body.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (body io.ReadCloser, contentType string, err error)
}

// FetcherConfig tunes the HTTP fetcher.
type FetcherConfig struct {
	Timeout   time.Duration
	UserAgent string
	// Headers are sent with every request (cookies or tokens some
	// providers require for media URLs).
	Headers map[string]string
}

// HTTPFetcher downloads http(s) URLs and decodes data: URLs.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates a fetcher with the given timeout and headers.
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "chatvault/1.0"
	}
	client := resty.New().
		SetHeader("User-Agent", cfg.UserAgent).
		SetTimeout(cfg.Timeout)
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	return &HTTPFetcher{client: client}
}

// Fetch streams the body of rawURL. HTTP 429 maps to *arc.RateLimitError and
// 404 to arc.ErrNotFound.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(rawURL, "data:") {
		data, contentType, err := decodeDataURL(rawURL)
		if err != nil {
			return nil, "", err
		}
		return io.NopCloser(bytes.NewReader(data)), contentType, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("unsupported media url: %s", redactURL(rawURL))
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("fetching media: %w", err)
	}
	body := resp.RawBody()

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		body.Close()
		return nil, "", &arc.RateLimitError{After: parseRetryAfter(resp.Header().Get("Retry-After")), Message: "media download rate limited"}
	case code == http.StatusNotFound:
		body.Close()
		return nil, "", fmt.Errorf("media %s: %w", redactURL(rawURL), arc.ErrNotFound)
	case code >= 400:
		body.Close()
		return nil, "", fmt.Errorf("remote fetch error: %s", resp.Status())
	}
	return body, resp.Header().Get("Content-Type"), nil
}

// decodeDataURL decodes a base64 data: URL and returns its bytes and media type.
func decodeDataURL(value string) ([]byte, string, error) {
	parts := strings.SplitN(strings.TrimPrefix(value, "data:"), ",", 2)
	if len(parts) != 2 {
		return nil, "", errors.New("invalid data url")
	}
	if !strings.HasSuffix(parts[0], ";base64") {
		return nil, "", errors.New("data url must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, "", fmt.Errorf("decoding data url: %w", err)
	}
	return data, strings.TrimSuffix(parts[0], ";base64"), nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// redactURL keeps data: URLs and long query strings out of logs and errors.
func redactURL(rawURL string) string {
	if strings.HasPrefix(rawURL, "data:") {
		if i := strings.IndexByte(rawURL, ','); i > 0 {
			return rawURL[:i] + ",..."
		}
		return "data:..."
	}
	if i := strings.IndexByte(rawURL, '?'); i > 0 {
		return rawURL[:i]
	}
	return rawURL
}
