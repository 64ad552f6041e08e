package arc

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chatvault/internal/ratelimit"
)

const (
	maxConcurrencyOverride = 20
	minAutoConcurrency     = 2
	maxAutoConcurrency     = 10

	// staleTolerance absorbs timestamp jitter between listing and stored copy.
	staleTolerance = time.Second
)

// ArchiverConfig tunes fetch retries and the per-run rate limiter.
type ArchiverConfig struct {
	// Limiter is copied into each run; MaxConcurrency is replaced by the
	// run's computed worker count.
	Limiter ratelimit.Config
	// FetchAttempts bounds timeout retries per conversation (default 3).
	FetchAttempts int
	// RetryBaseDelay is the first timeout retry delay, doubled per attempt
	// (default 1s).
	RetryBaseDelay time.Duration
}

// DefaultArchiverConfig returns the archiver defaults.
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		Limiter:        ratelimit.DefaultConfig(),
		FetchAttempts:  3,
		RetryBaseDelay: time.Second,
	}
}

// Archiver is the orchestration layer: it lists a provider's conversations,
// fans fetch/save work out over a bounded pool and aggregates the outcome.
type Archiver struct {
	store   ContentStore
	media   MediaStore
	runs    RunStore
	metrics Metrics
	logger  Logger
	clock   Clock
	cfg     ArchiverConfig
	cpus    func() int
}

// NewArchiver creates an Archiver. media and runs may be nil: without a
// media store attachments are never downloaded, and without a run store
// History is unavailable.
func NewArchiver(store ContentStore, media MediaStore, runs RunStore, metrics Metrics, logger Logger, clock Clock, cfg ArchiverConfig) *Archiver {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Archiver{
		store:   store,
		media:   media,
		runs:    runs,
		metrics: metrics,
		logger:  logger,
		clock:   clock,
		cfg:     cfg,
		cpus:    runtime.NumCPU,
	}
}

// taskResult is what one conversation task hands back to the aggregator.
type taskResult struct {
	id      string
	outcome Outcome
	err     error
	media   *MediaReport
}

// run holds the state shared by the tasks of one Archive call.
type run struct {
	provider Provider
	name     string
	opts     ArchiveOptions
	batch    ConversationBatch
	limiter  *ratelimit.Limiter

	progressMu sync.Mutex
	completed  int
	total      int
}

func (r *run) progress(ev ProgressEvent) {
	if r.opts.OnProgress == nil {
		return
	}
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	ev.Total = r.total
	if ev.Done {
		r.completed++
	}
	ev.Completed = r.completed
	r.opts.OnProgress(ev)
}

// Archive runs one archive pass against p. A listing failure aborts the run
// and is returned as an error; per-conversation and per-attachment failures
// are reported in the result. The result is always non-nil and carries the
// elapsed duration.
func (a *Archiver) Archive(ctx context.Context, p Provider, opts ArchiveOptions) (*ArchiveResult, error) {
	start := a.clock.Now()
	name := p.Name()
	result := &ArchiveResult{Provider: name}
	defer func() {
		result.Duration = a.clock.Now().Sub(start)
		a.metrics.RunFinished(name, result.Duration)
	}()

	if c, ok := p.(Cleaner); ok {
		defer func() {
			if err := c.Cleanup(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("provider cleanup failed", "provider", name, "error", err)
			}
		}()
	}

	listOpts := ListOptions{Since: opts.Since, Until: opts.Until}
	if len(opts.IDs) == 0 && opts.Search == "" {
		listOpts.Limit = opts.Limit
	}
	summaries, err := p.ListConversations(ctx, listOpts)
	if err != nil {
		return result, fmt.Errorf("listing conversations: %w", err)
	}

	candidates := filterSummaries(summaries, opts)
	result.Candidates = len(candidates)
	a.logger.Info("archive started", "provider", name, "listed", len(summaries), "candidates", len(candidates), "dry_run", opts.DryRun)

	if !opts.DryRun {
		a.saveProviderExtras(ctx, p, result)
	}

	r := &run{provider: p, name: name, opts: opts, total: len(candidates)}
	if !opts.DryRun {
		r.batch = a.store.BeginBatch()
	}

	concurrency := a.initialConcurrency(p, opts.Concurrency)
	result.Concurrency = concurrency
	limCfg := a.cfg.Limiter
	limCfg.MaxConcurrency = concurrency
	r.limiter = ratelimit.New(limCfg, a.clock)
	a.metrics.ConcurrencyChanged(name, concurrency)

	results := make([]taskResult, len(candidates))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, s := range candidates {
		i, s := i, s
		g.Go(func() error {
			results[i] = a.archiveOne(ctx, r, s)
			a.metrics.ConversationDone(name, results[i].outcome)
			r.progress(ProgressEvent{ConversationID: s.ID, Outcome: results[i].outcome, Done: true})
			return nil
		})
	}
	_ = g.Wait()

	aggregate(result, results)

	if r.batch != nil {
		if err := r.batch.Flush(); err != nil {
			return result, fmt.Errorf("flushing index: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		a.logger.Warn("archive interrupted", "provider", name, "archived", result.Archived, "error", err)
		return result, fmt.Errorf("archive interrupted: %w", err)
	}

	a.logger.Info("archive finished", "provider", name,
		"archived", result.Archived, "skipped", result.Skipped,
		"rate_limited", result.RateLimited, "failed", result.Failed,
		"media_downloaded", result.MediaDownloaded, "media_bytes", result.MediaBytes)
	return result, nil
}

// archiveOne runs the per-conversation pipeline: circuit wait, staleness
// check, fetch with timeout retries, save, media download.
func (a *Archiver) archiveOne(ctx context.Context, r *run, s ConversationSummary) taskResult {
	res := taskResult{id: s.ID}

	if err := r.limiter.WaitForCircuit(ctx); err != nil {
		res.outcome, res.err = OutcomeFailed, err
		return res
	}

	if r.opts.SkipExisting {
		fresh, err := a.isUpToDate(r.name, s)
		if err != nil {
			res.outcome, res.err = OutcomeFailed, err
			return res
		}
		if fresh {
			a.logger.Debug("conversation unchanged, skipping", "provider", r.name, "id", s.ID)
			res.outcome = OutcomeSkipped
			return res
		}
	}

	conv, err := a.fetchWithRetry(ctx, r, s.ID)
	if err != nil {
		if IsRateLimit(err) {
			delay := r.limiter.RecordRateLimit(err)
			a.logger.Warn("rate limited", "provider", r.name, "id", s.ID,
				"concurrency", r.limiter.Concurrency(), "delay", delay)
			a.metrics.ConcurrencyChanged(r.name, r.limiter.Concurrency())
			if r.limiter.IsCircuitOpen() {
				a.logger.Warn("circuit open, pausing new work", "provider", r.name, "delay", delay)
				a.metrics.CircuitOpened(r.name)
			}
			if werr := r.limiter.WaitForBackoff(ctx, delay); werr != nil {
				a.logger.Debug("rate-limit backoff interrupted", "provider", r.name, "id", s.ID, "error", werr)
				err = fmt.Errorf("%w (backoff interrupted: %w)", err, werr)
			}
			res.outcome, res.err = OutcomeRateLimited, err
			return res
		}
		a.logger.Warn("fetch failed", "provider", r.name, "id", s.ID, "error", err)
		res.outcome, res.err = OutcomeFailed, err
		return res
	}
	r.limiter.RecordSuccess()
	conv.Provider = r.name

	if r.opts.DryRun {
		res.outcome = OutcomeArchived
		return res
	}

	if err := r.batch.SaveConversation(conv); err != nil {
		a.logger.Error("saving conversation failed", "provider", r.name, "id", s.ID, "error", err)
		res.outcome, res.err = OutcomeFailed, fmt.Errorf("saving conversation: %w", err)
		return res
	}

	if r.opts.DownloadMedia && a.media != nil && conv.HasAttachments() {
		report := a.media.DownloadConversationMedia(ctx, conv, func(current, total int) {
			r.progress(ProgressEvent{ConversationID: s.ID, MediaCurrent: current, MediaTotal: total})
		})
		a.metrics.MediaDone(r.name, report)
		res.media = &report
	}

	res.outcome = OutcomeArchived
	return res
}

// isUpToDate reports whether a stored copy exists that is not older than the
// listing (within staleTolerance). An unreadable stored copy counts as stale.
func (a *Archiver) isUpToDate(provider string, s ConversationSummary) (bool, error) {
	exists, err := a.store.ConversationExists(provider, s.ID)
	if err != nil {
		return false, fmt.Errorf("checking stored conversation: %w", err)
	}
	if !exists {
		return false, nil
	}
	local, err := a.store.GetConversation(provider, s.ID)
	if err != nil {
		a.logger.Warn("stored conversation unreadable, re-fetching", "provider", provider, "id", s.ID, "error", err)
		return false, nil
	}
	return s.UpdatedAt.Sub(local.UpdatedAt) <= staleTolerance, nil
}

// fetchWithRetry retries only timeouts, doubling the delay each attempt.
// Rate-limit and permanent errors return immediately.
func (a *Archiver) fetchWithRetry(ctx context.Context, r *run, id string) (*Conversation, error) {
	delay := a.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		conv, err := r.provider.FetchConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if IsRateLimit(err) || !IsTimeout(err) || attempt >= a.cfg.FetchAttempts {
			return nil, err
		}
		a.logger.Debug("fetch timed out, retrying", "provider", r.name, "id", id, "attempt", attempt, "delay", delay)
		if werr := r.limiter.WaitForBackoff(ctx, delay); werr != nil {
			return nil, fmt.Errorf("%w (retry interrupted: %w)", err, werr)
		}
		delay *= 2
	}
}

// saveProviderExtras stores assets and workspaces for providers exposing
// them. Failures are recorded as provider errors and never abort the run.
func (a *Archiver) saveProviderExtras(ctx context.Context, p Provider, result *ArchiveResult) {
	name := p.Name()
	if al, ok := p.(AssetLister); ok {
		assets, err := al.ListAssets(ctx)
		if err == nil {
			err = a.store.SaveAssets(name, assets)
		}
		if err != nil {
			a.logger.Warn("saving assets failed", "provider", name, "error", err)
			result.addError(ArchiveError{Type: ErrorTypeProvider, Message: "assets: " + err.Error()})
		} else {
			result.AssetsSaved = len(assets)
		}
	}
	if wl, ok := p.(WorkspaceLister); ok {
		workspaces, err := wl.ListWorkspaces(ctx)
		if err == nil {
			err = a.store.SaveWorkspaces(name, workspaces)
		}
		if err != nil {
			a.logger.Warn("saving workspaces failed", "provider", name, "error", err)
			result.addError(ArchiveError{Type: ErrorTypeProvider, Message: "workspaces: " + err.Error()})
		} else {
			result.WorkspacesSaved = len(workspaces)
		}
	}
}

// initialConcurrency picks the worker count: an explicit override clamped to
// 1-20, else half the CPUs clamped to 2-10, then capped by the provider hint.
func (a *Archiver) initialConcurrency(p Provider, override int) int {
	var n int
	if override > 0 {
		n = clamp(override, 1, maxConcurrencyOverride)
	} else {
		n = clamp(a.cpus()/2, minAutoConcurrency, maxAutoConcurrency)
	}
	if h, ok := p.(ConcurrencyHinter); ok {
		if m := h.MaxConcurrent(); m > 0 && n > m {
			n = m
		}
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// filterSummaries applies the id filter, the case-insensitive text filter
// and the limit, in that order.
func filterSummaries(summaries []ConversationSummary, opts ArchiveOptions) []ConversationSummary {
	out := summaries
	if len(opts.IDs) > 0 {
		want := make(map[string]struct{}, len(opts.IDs))
		for _, id := range opts.IDs {
			want[id] = struct{}{}
		}
		var kept []ConversationSummary
		for _, s := range out {
			if _, ok := want[s.ID]; ok {
				kept = append(kept, s)
			}
		}
		out = kept
	}
	if q := strings.ToLower(strings.TrimSpace(opts.Search)); q != "" {
		var kept []ConversationSummary
		for _, s := range out {
			if strings.Contains(strings.ToLower(s.Title), q) || strings.Contains(strings.ToLower(s.Preview), q) {
				kept = append(kept, s)
			}
		}
		out = kept
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func aggregate(result *ArchiveResult, results []taskResult) {
	for _, tr := range results {
		switch tr.outcome {
		case OutcomeArchived:
			result.Archived++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeRateLimited:
			result.RateLimited++
			result.addError(ArchiveError{ConversationID: tr.id, Type: ErrorTypeConversation, Message: tr.err.Error()})
		case OutcomeFailed:
			result.Failed++
			result.addError(ArchiveError{ConversationID: tr.id, Type: ErrorTypeConversation, Message: tr.err.Error()})
		}
		if m := tr.media; m != nil {
			result.MediaDownloaded += m.Downloaded
			result.MediaSkipped += m.Skipped
			result.MediaFailed += m.Failed
			result.MediaBytes += m.Bytes
			for _, me := range m.Errors {
				result.addError(ArchiveError{ConversationID: tr.id, Type: ErrorTypeMedia, Message: me.Message, URL: me.URL})
			}
		}
	}
}
