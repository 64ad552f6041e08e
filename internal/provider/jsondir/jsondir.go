// Package jsondir is a Provider backed by a directory of exported
// conversations, one JSON document per file. It is the reference source for
// local exports and for exercising the archiver end to end.
//
// Optional side files in the same directory:
//
//	workspaces.json  []arc.Workspace
//	assets.json      []arc.Asset
package jsondir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"chatvault/internal/arc"
)

const (
	workspacesFile = "workspaces.json"
	assetsFile     = "assets.json"
	previewLen     = 120
)

// Provider reads conversations from a directory.
type Provider struct {
	name          string
	dir           string
	maxConcurrent int

	mu    sync.Mutex
	files map[string]string // conversation id -> file path
}

// New creates a provider named name reading from dir. maxConcurrent of zero
// leaves the archiver's default in place.
func New(name, dir string, maxConcurrent int) (*Provider, error) {
	if name == "" {
		return nil, errors.New("provider name is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source is not a directory: %s", dir)
	}
	return &Provider{name: name, dir: dir, maxConcurrent: maxConcurrent}, nil
}

func (p *Provider) Name() string {
	return p.name
}

// ListConversations scans the directory and returns summaries newest first
// by UpdatedAt. Since and Until bound UpdatedAt inclusively.
func (p *Provider) ListConversations(ctx context.Context, opts arc.ListOptions) ([]arc.ConversationSummary, error) {
	convs, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}

	var out []arc.ConversationSummary
	for _, c := range convs {
		if opts.Since != nil && c.UpdatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && c.UpdatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, summarize(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// FetchConversation reads the conversation's file. Unknown ids fail with
// arc.ErrNotFound.
func (p *Provider) FetchConversation(ctx context.Context, id string) (*arc.Conversation, error) {
	path, ok := p.lookup(id)
	if !ok {
		if _, err := p.scan(ctx); err != nil {
			return nil, err
		}
		if path, ok = p.lookup(id); !ok {
			return nil, fmt.Errorf("conversation %s: %w", id, arc.ErrNotFound)
		}
	}
	conv, err := readConversation(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("conversation %s: %w", id, arc.ErrNotFound)
		}
		return nil, err
	}
	if conv.ID != id {
		return nil, fmt.Errorf("conversation %s: %w", id, arc.ErrNotFound)
	}
	conv.Provider = p.name
	return conv, nil
}

// ListWorkspaces returns the contents of workspaces.json, nil when absent.
func (p *Provider) ListWorkspaces(ctx context.Context) ([]arc.Workspace, error) {
	var ws []arc.Workspace
	if err := readSideFile(filepath.Join(p.dir, workspacesFile), &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// ListAssets returns the contents of assets.json, nil when absent.
func (p *Provider) ListAssets(ctx context.Context) ([]arc.Asset, error) {
	var assets []arc.Asset
	if err := readSideFile(filepath.Join(p.dir, assetsFile), &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// MaxConcurrent caps the archiver's worker count; zero means no cap.
func (p *Provider) MaxConcurrent() int {
	return p.maxConcurrent
}

func (p *Provider) lookup(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.files[id]
	return path, ok
}

// scan parses every conversation file and refreshes the id map. Files that
// fail to parse or carry no id are skipped.
func (p *Provider) scan(ctx context.Context) ([]*arc.Conversation, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("listing source directory: %w", err)
	}

	files := make(map[string]string)
	var convs []*arc.Conversation
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || name == workspacesFile || name == assetsFile {
			continue
		}
		path := filepath.Join(p.dir, name)
		conv, err := readConversation(path)
		if err != nil || conv.ID == "" {
			continue
		}
		files[conv.ID] = path
		convs = append(convs, conv)
	}

	p.mu.Lock()
	p.files = files
	p.mu.Unlock()
	return convs, nil
}

func readConversation(path string) (*arc.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conv arc.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return &conv, nil
}

func readSideFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func summarize(c *arc.Conversation) arc.ConversationSummary {
	preview := ""
	if len(c.Messages) > 0 {
		preview = c.Messages[0].Content
		if r := []rune(preview); len(r) > previewLen {
			preview = string(r[:previewLen])
		}
	}
	return arc.ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		Preview:      preview,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		HasMedia:     c.HasAttachments(),
	}
}

var (
	_ arc.Provider          = (*Provider)(nil)
	_ arc.WorkspaceLister   = (*Provider)(nil)
	_ arc.AssetLister       = (*Provider)(nil)
	_ arc.ConcurrencyHinter = (*Provider)(nil)
)
