package arc

import (
	"context"
	"reflect"
	"testing"
)

type plainProvider struct{}

func (plainProvider) Name() string { return "plain" }

func (plainProvider) ListConversations(context.Context, ListOptions) ([]ConversationSummary, error) {
	return nil, nil
}

func (plainProvider) FetchConversation(context.Context, string) (*Conversation, error) {
	return nil, ErrNotFound
}

type hintProvider struct {
	plainProvider
	max int
}

func (p hintProvider) MaxConcurrent() int { return p.max }

func TestInitialConcurrency(t *testing.T) {
	tests := []struct {
		name     string
		cpus     int
		override int
		provider Provider
		want     int
	}{
		{name: "half the cpus", cpus: 8, provider: plainProvider{}, want: 4},
		{name: "auto floor", cpus: 1, provider: plainProvider{}, want: 2},
		{name: "auto ceiling", cpus: 64, provider: plainProvider{}, want: 10},
		{name: "override", cpus: 8, override: 15, provider: plainProvider{}, want: 15},
		{name: "override ceiling", cpus: 8, override: 100, provider: plainProvider{}, want: 20},
		{name: "hint caps auto", cpus: 16, provider: hintProvider{max: 3}, want: 3},
		{name: "hint caps override", cpus: 16, override: 12, provider: hintProvider{max: 5}, want: 5},
		{name: "hint above count", cpus: 4, provider: hintProvider{max: 8}, want: 2},
		{name: "zero hint ignored", cpus: 8, provider: hintProvider{}, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Archiver{cpus: func() int { return tt.cpus }}
			if got := a.initialConcurrency(tt.provider, tt.override); got != tt.want {
				t.Errorf("initialConcurrency() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFilterSummaries(t *testing.T) {
	summaries := []ConversationSummary{
		{ID: "a", Title: "Trip to Lisbon"},
		{ID: "b", Title: "Budget", Preview: "quarterly TAX numbers"},
		{ID: "c", Title: "Tax return"},
		{ID: "d", Title: "Recipes"},
	}

	tests := []struct {
		name string
		opts ArchiveOptions
		want []string
	}{
		{name: "no filter", opts: ArchiveOptions{}, want: []string{"a", "b", "c", "d"}},
		{name: "ids keep listing order", opts: ArchiveOptions{IDs: []string{"d", "a"}}, want: []string{"a", "d"}},
		{name: "unknown ids", opts: ArchiveOptions{IDs: []string{"x"}}, want: nil},
		{name: "search title and preview", opts: ArchiveOptions{Search: "tax"}, want: []string{"b", "c"}},
		{name: "blank search", opts: ArchiveOptions{Search: "   "}, want: []string{"a", "b", "c", "d"}},
		{name: "limit after filters", opts: ArchiveOptions{Search: "tax", Limit: 1}, want: []string{"b"}},
		{name: "ids then search", opts: ArchiveOptions{IDs: []string{"a", "c"}, Search: "TAX"}, want: []string{"c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, s := range filterSummaries(summaries, tt.opts) {
				got = append(got, s.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("filterSummaries() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArchiveResult_Status(t *testing.T) {
	tests := []struct {
		name   string
		result ArchiveResult
		want   string
	}{
		{name: "clean", result: ArchiveResult{Archived: 2}, want: "success"},
		{name: "empty run", result: ArchiveResult{}, want: "success"},
		{name: "some failed", result: ArchiveResult{Archived: 1, Failed: 1}, want: "partial"},
		{name: "skips only with media failure", result: ArchiveResult{Skipped: 1, MediaFailed: 1}, want: "partial"},
		{name: "all failed", result: ArchiveResult{Failed: 3}, want: "error"},
		{name: "all rate limited", result: ArchiveResult{RateLimited: 2}, want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArchiveResult_ErrorCap(t *testing.T) {
	var r ArchiveResult
	for i := 0; i < maxResultErrors+7; i++ {
		r.addError(ArchiveError{Type: ErrorTypeConversation, Message: "boom"})
	}
	if len(r.Errors) != maxResultErrors {
		t.Errorf("len(Errors) = %d, want %d", len(r.Errors), maxResultErrors)
	}
	if r.ErrorsDropped != 7 {
		t.Errorf("ErrorsDropped = %d, want 7", r.ErrorsDropped)
	}
}
