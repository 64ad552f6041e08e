package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeFetcher serves attachment bytes from memory. Safe for concurrent use.
type FakeFetcher struct {
	mu      sync.Mutex
	content map[string]fakeMedia
	errs    map[string]error
	calls   map[string]int
}

type fakeMedia struct {
	data        []byte
	contentType string
}

// NewFakeFetcher creates an empty FakeFetcher.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{
		content: make(map[string]fakeMedia),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// Add serves data at url with the given Content-Type.
func (f *FakeFetcher) Add(url string, data []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[url] = fakeMedia{data: data, contentType: contentType}
}

// Fail makes url return err.
func (f *FakeFetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// Calls returns how often url was fetched.
func (f *FakeFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *FakeFetcher) Fetch(_ context.Context, url string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return nil, "", err
	}
	m, ok := f.content[url]
	if !ok {
		return nil, "", fmt.Errorf("remote fetch error: 404 Not Found")
	}
	return io.NopCloser(bytes.NewReader(m.data)), m.contentType, nil
}
