package media_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatvault/internal/arc"
	"chatvault/internal/media"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if got := r.Header.Get("User-Agent"); got != "test-agent" {
				t.Errorf("User-Agent = %q, want test-agent", got)
			}
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("image-bytes"))
		case "/throttled":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := media.NewHTTPFetcher(media.FetcherConfig{Timeout: 5 * time.Second, UserAgent: "test-agent"})
	ctx := context.Background()

	t.Run("streams body and content type", func(t *testing.T) {
		body, ct, err := f.Fetch(ctx, srv.URL+"/ok")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		defer body.Close()
		data, _ := io.ReadAll(body)
		if string(data) != "image-bytes" || ct != "image/png" {
			t.Errorf("Fetch() = %q, %q", data, ct)
		}
	})

	t.Run("429 is a rate limit with retry-after", func(t *testing.T) {
		_, _, err := f.Fetch(ctx, srv.URL+"/throttled")
		var rl *arc.RateLimitError
		if !errors.As(err, &rl) {
			t.Fatalf("Fetch() error = %v, want RateLimitError", err)
		}
		if rl.RetryAfter() != 7*time.Second {
			t.Errorf("RetryAfter() = %v, want 7s", rl.RetryAfter())
		}
	})

	t.Run("404 is not found", func(t *testing.T) {
		_, _, err := f.Fetch(ctx, srv.URL+"/missing")
		if !errors.Is(err, arc.ErrNotFound) {
			t.Errorf("Fetch() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("5xx is an error", func(t *testing.T) {
		if _, _, err := f.Fetch(ctx, srv.URL+"/boom"); err == nil {
			t.Error("expected error for 500")
		}
	})

	t.Run("data url", func(t *testing.T) {
		u := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("inline"))
		body, ct, err := f.Fetch(ctx, u)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		data, _ := io.ReadAll(body)
		if string(data) != "inline" || ct != "text/plain" {
			t.Errorf("Fetch() = %q, %q", data, ct)
		}
	})

	t.Run("rejects other schemes", func(t *testing.T) {
		if _, _, err := f.Fetch(ctx, "file:///etc/passwd"); err == nil {
			t.Error("expected error for file url")
		}
		if _, _, err := f.Fetch(ctx, "data:text/plain,notbase64"); err == nil {
			t.Error("expected error for non-base64 data url")
		}
	})
}
