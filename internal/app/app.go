package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"chatvault/internal/arc"
	"chatvault/internal/config"
	"chatvault/internal/database"
	"chatvault/internal/encryption"
	"chatvault/internal/media"
	"chatvault/internal/metrics"
	"chatvault/internal/model"
	"chatvault/internal/provider"
	"chatvault/internal/ratelimit"
	"chatvault/internal/storage"
	"chatvault/internal/vault"
)

// App is the application layer between the CLI and the Archiver.
// It constructs all dependencies from config, records mutating commands in
// run history and uploads metadata snapshots on Close.
type App struct {
	cfg       *config.Config
	store     *storage.Store
	media     *media.Store
	runs      *database.SQLiteRunStore
	vault     arc.Vault     // nil when no vault is configured
	encryptor arc.Encryptor // nil when encryption type is "none"
	metrics   *metrics.Recorder
	archiver  *arc.Archiver
	logger    arc.Logger
	op        *Operation
	touched   map[string]bool // providers whose metadata changed this run
	logFile   *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (see the Op constants).
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}
	clock := arc.RealClock{}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		op:      NewOperation(operation),
		touched: make(map[string]bool),
		logFile: logFile,
	}
	ok := false
	defer func() {
		if !ok {
			a.release()
		}
	}()

	formats, err := storage.ParseFormats(cfg.Archive.Formats)
	if err != nil {
		return nil, err
	}
	layout, err := storage.ParseLayout(cfg.Archive.Layout)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.New(storage.Options{
		BaseDir:  cfg.Archive.OutputDir,
		Formats:  formats,
		Compress: cfg.Archive.Compress,
		Layout:   layout,
	}, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("creating content store: %w", err)
	}

	fetcher := media.NewHTTPFetcher(media.FetcherConfig{
		Timeout:   cfg.Media.FetchTimeout.Duration,
		UserAgent: cfg.Media.UserAgent,
	})
	a.media, err = media.New(cfg.Archive.OutputDir, fetcher, media.Options{MaxBytes: cfg.Media.MaxBytes}, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("creating media store: %w", err)
	}

	a.runs, err = database.NewRunStoreFromConfig(cfg.Database, clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := a.runs.CheckMigrations(); err != nil {
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	if len(cfg.Vaults) > 0 {
		a.vault, err = vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
		if err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
	}

	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if a.vault != nil && a.encryptor != nil && !a.encryptor.IsConfigured() {
		return nil, errors.New("snapshot encryption keys not found: run 'chatvault config encryption init' or set encryption.type = \"none\"")
	}

	if a.vault != nil && operation != OpRestoreSnapshot {
		if err := a.checkSnapshotVersion(); err != nil {
			return nil, err
		}
	}

	a.metrics = metrics.NewRecorder(clock)
	a.archiver = arc.NewArchiver(a.store, a.media, a.runs, a.metrics, logger, clock, archiverConfig(cfg))

	ok = true
	return a, nil
}

// archiverConfig maps the TOML settings onto the archiver and its limiter.
func archiverConfig(cfg *config.Config) arc.ArchiverConfig {
	rl := cfg.RateLimit
	return arc.ArchiverConfig{
		Limiter: ratelimit.Config{
			MaxConcurrency:   rl.MaxConcurrency,
			MinConcurrency:   rl.MinConcurrency,
			BaseDelay:        rl.BaseDelay.Duration,
			MaxDelay:         rl.MaxDelay.Duration,
			RecoveryWindow:   rl.RecoveryWindow.Duration,
			RampStep:         rl.RampStep,
			CircuitThreshold: rl.CircuitThreshold,
			PollInterval:     rl.PollInterval.Duration,
		},
		FetchAttempts:  cfg.Archive.FetchAttempts,
		RetryBaseDelay: cfg.Archive.RetryBaseDelay.Duration,
	}
}

// checkSnapshotVersion refuses to run when the vault holds a database
// snapshot newer than the local run history.
func (a *App) checkSnapshotVersion() error {
	remoteVersion, err := a.vault.GetSnapshotVersion(a.cfg.InstanceID, dbSnapshotName)
	if err != nil {
		return fmt.Errorf("checking remote snapshot version: %w", err)
	}

	localMax, err := a.runs.MaxRunID()
	if err != nil {
		return fmt.Errorf("checking local run history version: %w", err)
	}

	if remoteVersion > localMax {
		return fmt.Errorf("local run history is behind the vault (local=%d, remote=%d): restore the %q snapshot or re-initialize", localMax, remoteVersion, dbSnapshotName)
	}
	return nil
}

// persistOperation saves the operation to the database, giving it an
// auto-increment ID. Only mutating commands call it.
func (a *App) persistOperation(providerName, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	run, err := a.runs.CreateRun(providerName, a.op.Operation, parameters)
	if err != nil {
		return fmt.Errorf("persisting run: %w", err)
	}
	a.op.ID = run.ID
	a.op.Provider = providerName
	a.op.Parameters = parameters
	return nil
}

// Providers returns the configured provider names.
func (a *App) Providers() []string {
	names := make([]string, 0, len(a.cfg.Providers))
	for _, p := range a.cfg.Providers {
		names = append(names, p.Name)
	}
	return names
}

func (a *App) provider(name string) (arc.Provider, error) {
	pc, ok := a.cfg.Provider(name)
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	p, err := provider.NewProviderFromConfig(pc)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return p, nil
}

// Archive runs one archive pass for the named provider. Dry runs are not
// recorded in run history and upload nothing.
func (a *App) Archive(ctx context.Context, providerName string, opts arc.ArchiveOptions) (*arc.ArchiveResult, error) {
	p, err := a.provider(providerName)
	if err != nil {
		return nil, err
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = a.cfg.Archive.Concurrency
	}
	if !a.cfg.Media.Enabled {
		opts.DownloadMedia = false
	}

	if !opts.DryRun {
		if err := a.persistOperation(providerName, describeOptions(opts)); err != nil {
			return nil, err
		}
	}

	result, err := a.archiver.Archive(ctx, p, opts)
	if !opts.DryRun {
		a.op.Status = result.Status()
		a.op.Counts = result.Counts()
		if err != nil {
			a.op.Status = model.StatusError
		}
		a.touched[providerName] = true
	}
	a.writeMetrics()
	return result, err
}

// describeOptions renders the options worth keeping in run history.
func describeOptions(opts arc.ArchiveOptions) string {
	var parts []string
	if opts.Since != nil {
		parts = append(parts, "since="+opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Until != nil {
		parts = append(parts, "until="+opts.Until.UTC().Format(time.RFC3339))
	}
	if opts.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", opts.Limit))
	}
	if len(opts.IDs) > 0 {
		parts = append(parts, "ids="+strings.Join(opts.IDs, ","))
	}
	if opts.Search != "" {
		parts = append(parts, fmt.Sprintf("search=%q", opts.Search))
	}
	if opts.DownloadMedia {
		parts = append(parts, "media")
	}
	if opts.SkipExisting {
		parts = append(parts, "skip-existing")
	}
	if opts.Concurrency > 0 {
		parts = append(parts, fmt.Sprintf("concurrency=%d", opts.Concurrency))
	}
	return strings.Join(parts, " ")
}

// History returns the most recent runs.
func (a *App) History(limit int) ([]*model.ArchiveRun, error) {
	return a.archiver.History(limit)
}

// MediaStats returns registry statistics for the named provider.
func (a *App) MediaStats(providerName string) (media.Stats, error) {
	return a.media.Stats(providerName)
}

// MediaCleanup removes media no longer referenced by any conversation in
// the provider's index. The run is recorded in history.
func (a *App) MediaCleanup(providerName string) (media.CleanupResult, error) {
	if err := a.persistOperation(providerName, ""); err != nil {
		return media.CleanupResult{}, err
	}
	idx, err := a.store.GetIndex(providerName)
	if err != nil {
		a.op.Status = model.StatusError
		return media.CleanupResult{}, fmt.Errorf("reading index: %w", err)
	}
	res, err := a.media.Cleanup(providerName, idx.IDs())
	a.op.Counts.FilesRemoved = res.FilesRemoved
	a.op.Counts.BytesFreed = res.BytesFreed
	if err != nil {
		a.op.Status = model.StatusError
		return res, err
	}
	a.touched[providerName] = true
	return res, nil
}

// writeMetrics exports the run metrics when a textfile path is configured.
func (a *App) writeMetrics() {
	path := a.cfg.Metrics.TextfilePath
	if path == "" {
		return
	}
	if err := a.metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("writing metrics textfile failed", "path", path, "error", err)
	}
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the run record, snapshots the database
// and uploads it with the touched providers' metadata to the vault.
// For non-persisted operations: just closes the database.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		if err := a.runs.FinishRun(a.op.ID, a.op.Status, a.op.Counts); err != nil {
			keep(fmt.Errorf("finishing run: %w", err))
		}
		if a.vault != nil {
			keep(a.uploadSnapshots())
		}
	}

	keep(a.release())
	return firstErr
}

// release closes the database and the log file.
func (a *App) release() error {
	var err error
	if a.runs != nil {
		if cerr := a.runs.Close(); cerr != nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
		a.runs = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return err
}

// SetupEncryption creates the snapshot key pair described by cfg, protecting
// the private key with passphrase.
func SetupEncryption(cfg config.EncryptionConfig, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return err
	}
	if enc == nil {
		return errors.New("encryption is disabled (type = \"none\")")
	}
	if enc.IsConfigured() {
		return errors.New("encryption keys already exist")
	}
	return enc.Setup(passphrase)
}
