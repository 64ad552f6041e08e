package testutil

import (
	"context"
	"errors"
	"sync"

	"chatvault/internal/arc"
)

// FakeProvider serves conversations from memory. Fetch errors can be queued
// per id; each fetch consumes one queued error before succeeding. Safe for
// concurrent use.
type FakeProvider struct {
	name string

	mu         sync.Mutex
	order      []string
	convs      map[string]*arc.Conversation
	summaries  map[string]arc.ConversationSummary
	fetchErrs  map[string][]error
	fetchCalls map[string]int
	listOpts   []arc.ListOptions
	listErr    error
	maxConc    int
	cleanups   int
}

// NewFakeProvider creates a provider named name serving convs in listing order.
func NewFakeProvider(name string, convs ...*arc.Conversation) *FakeProvider {
	p := &FakeProvider{
		name:       name,
		convs:      make(map[string]*arc.Conversation),
		summaries:  make(map[string]arc.ConversationSummary),
		fetchErrs:  make(map[string][]error),
		fetchCalls: make(map[string]int),
	}
	for _, c := range convs {
		p.Add(c)
	}
	return p
}

// Add serves conv, listed with SummaryOf(conv). Re-adding an id replaces it
// in place.
func (p *FakeProvider) Add(conv *arc.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.convs[conv.ID]; !ok {
		p.order = append(p.order, conv.ID)
	}
	p.convs[conv.ID] = conv
	p.summaries[conv.ID] = SummaryOf(conv)
}

// FailFetch queues errs for id, returned by successive fetches.
func (p *FakeProvider) FailFetch(id string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchErrs[id] = append(p.fetchErrs[id], errs...)
}

// FailList makes ListConversations return err.
func (p *FakeProvider) FailList(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listErr = err
}

// SetMaxConcurrent sets the value reported by MaxConcurrent.
func (p *FakeProvider) SetMaxConcurrent(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConc = n
}

// FetchCalls returns how many times id was fetched.
func (p *FakeProvider) FetchCalls(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchCalls[id]
}

// ListCalls returns the options of every ListConversations call.
func (p *FakeProvider) ListCalls() []arc.ListOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]arc.ListOptions(nil), p.listOpts...)
}

// Cleanups returns how many times Cleanup ran.
func (p *FakeProvider) Cleanups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanups
}

func (p *FakeProvider) Name() string {
	return p.name
}

func (p *FakeProvider) ListConversations(ctx context.Context, opts arc.ListOptions) ([]arc.ConversationSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listOpts = append(p.listOpts, opts)
	if p.listErr != nil {
		return nil, p.listErr
	}
	var out []arc.ConversationSummary
	for _, id := range p.order {
		s := p.summaries[id]
		if opts.Since != nil && s.UpdatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && s.UpdatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, s)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// FetchConversation returns a copy of the stored conversation so callers
// can mutate it freely.
func (p *FakeProvider) FetchConversation(ctx context.Context, id string) (*arc.Conversation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchCalls[id]++
	if errs := p.fetchErrs[id]; len(errs) > 0 {
		p.fetchErrs[id] = errs[1:]
		return nil, errs[0]
	}
	conv, ok := p.convs[id]
	if !ok {
		return nil, errors.Join(arc.ErrNotFound, errors.New("conversation "+id))
	}
	return CloneConversation(conv), nil
}

func (p *FakeProvider) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxConc
}

func (p *FakeProvider) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanups++
	return nil
}

// FakeOrgProvider adds assets and workspaces to a FakeProvider.
type FakeOrgProvider struct {
	*FakeProvider
	Assets     []arc.Asset
	Workspaces []arc.Workspace
	// ExtrasErr, when set, fails both listings.
	ExtrasErr error
}

func (p *FakeOrgProvider) ListAssets(ctx context.Context) ([]arc.Asset, error) {
	if p.ExtrasErr != nil {
		return nil, p.ExtrasErr
	}
	return p.Assets, nil
}

func (p *FakeOrgProvider) ListWorkspaces(ctx context.Context) ([]arc.Workspace, error) {
	if p.ExtrasErr != nil {
		return nil, p.ExtrasErr
	}
	return p.Workspaces, nil
}

// CloneConversation deep-copies messages, attachments and hierarchy.
func CloneConversation(c *arc.Conversation) *arc.Conversation {
	out := *c
	out.Messages = make([]arc.Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Attachments = append([]arc.Attachment(nil), m.Attachments...)
		out.Messages[i] = m
	}
	if c.Hierarchy != nil {
		h := *c.Hierarchy
		out.Hierarchy = &h
	}
	return &out
}

var (
	_ arc.Provider          = (*FakeProvider)(nil)
	_ arc.ConcurrencyHinter = (*FakeProvider)(nil)
	_ arc.Cleaner           = (*FakeProvider)(nil)
	_ arc.AssetLister       = (*FakeOrgProvider)(nil)
	_ arc.WorkspaceLister   = (*FakeOrgProvider)(nil)
)
