package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatvault/internal/app"
	"chatvault/internal/arc"
	"chatvault/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file from the default location.
func readConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (see app.Op*).
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// parseTime accepts a date (2006-01-02) or an RFC 3339 timestamp.
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC 3339", s)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

var rootCmd = &cobra.Command{
	Use:          "chatvault",
	Short:        "Archive AI conversations to local files",
	SilenceUsage: true,
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive PROVIDER",
	Short: "Archive conversations from a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		sinceFlag, _ := flags.GetString("since")
		untilFlag, _ := flags.GetString("until")
		limit, _ := flags.GetInt("limit")
		ids, _ := flags.GetStringSlice("id")
		search, _ := flags.GetString("search")
		dryRun, _ := flags.GetBool("dry-run")
		noMedia, _ := flags.GetBool("no-media")
		skipExisting, _ := flags.GetBool("skip-existing")
		concurrency, _ := flags.GetInt("concurrency")
		quiet, _ := flags.GetBool("quiet")

		since, err := parseTime(sinceFlag)
		if err != nil {
			return err
		}
		until, err := parseTime(untilFlag)
		if err != nil {
			return err
		}

		opts := arc.ArchiveOptions{
			Since:         since,
			Until:         until,
			Limit:         limit,
			IDs:           ids,
			Search:        search,
			DryRun:        dryRun,
			DownloadMedia: !noMedia,
			SkipExisting:  skipExisting,
			Concurrency:   concurrency,
		}
		if !quiet {
			opts.OnProgress = func(ev arc.ProgressEvent) {
				if ev.Done {
					fmt.Fprintf(os.Stderr, "[%d/%d] %-12s %s\n", ev.Completed, ev.Total, ev.Outcome, ev.ConversationID)
				}
			}
		}

		a, err := newApp(cmd.Context(), app.OpArchive)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Archive(cmd.Context(), args[0], opts)
		if result != nil {
			printResult(result, dryRun)
		}
		if err != nil {
			return fmt.Errorf("archive failed: %w", err)
		}
		return nil
	},
}

func printResult(r *arc.ArchiveResult, dryRun bool) {
	verb := "Archived"
	if dryRun {
		verb = "Would archive"
	}
	fmt.Printf("%s %d conversation(s) from %s in %s\n", verb, r.Archived, r.Provider, r.Duration.Truncate(time.Millisecond))
	fmt.Printf("  candidates: %d  skipped: %d  rate-limited: %d  failed: %d  concurrency: %d\n",
		r.Candidates, r.Skipped, r.RateLimited, r.Failed, r.Concurrency)
	if r.MediaDownloaded+r.MediaSkipped+r.MediaFailed > 0 {
		fmt.Printf("  media: %d downloaded (%s), %d deduplicated, %d failed\n",
			r.MediaDownloaded, formatBytes(r.MediaBytes), r.MediaSkipped, r.MediaFailed)
	}
	if r.AssetsSaved+r.WorkspacesSaved > 0 {
		fmt.Printf("  assets: %d  workspaces: %d\n", r.AssetsSaved, r.WorkspacesSaved)
	}
	for _, e := range r.Errors {
		target := e.ConversationID
		if e.URL != "" {
			target += " " + e.URL
		}
		fmt.Printf("  error [%s] %s: %s\n", e.Type, target, e.Message)
	}
	if r.ErrorsDropped > 0 {
		fmt.Printf("  ... and %d more error(s)\n", r.ErrorsDropped)
	}
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View archive run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), app.OpHistory)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, run := range runs {
			duration := ""
			if run.FinishedAt.Valid {
				d := run.FinishedAt.Time.Sub(run.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-13s  %-10s  %s  %-8s  %-9s  archived:%d skipped:%d failed:%d  %s\n",
				run.ID,
				run.Operation,
				run.Provider,
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				run.Status,
				duration,
				run.Counts.Archived,
				run.Counts.Skipped,
				run.Counts.Failed,
				run.Parameters,
			)
		}
		return nil
	},
}

// media command
var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Inspect and clean up downloaded media",
}

var mediaStatsCmd = &cobra.Command{
	Use:   "stats PROVIDER",
	Short: "Show media registry statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.OpMediaStats)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.MediaStats(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("References:    %d\n", st.TotalFiles)
		fmt.Printf("Unique files:  %d\n", st.UniqueFiles)
		fmt.Printf("Size on disk:  %s\n", formatBytes(st.TotalSize))
		fmt.Printf("Dedup savings: %s\n", formatBytes(st.DedupSavings))
		return nil
	},
}

var mediaCleanupCmd = &cobra.Command{
	Use:   "cleanup PROVIDER",
	Short: "Remove media no longer referenced by archived conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.OpMediaCleanup)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.MediaCleanup(args[0])
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Removed %d file(s), freed %s, dropped %d reference(s)\n",
			res.FilesRemoved, formatBytes(res.BytesFreed), res.ReferencesRemoved)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage metadata snapshots in the vault",
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore NAME",
	Short: "Download a snapshot (e.g. db, claude-index.json)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		a, err := newApp(cmd.Context(), app.OpRestoreSnapshot)
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.NeedsPassphrase() {
			passphrase, err = readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
		}

		if err := a.RestoreSnapshot(args[0], out, passphrase); err != nil {
			return err
		}
		fmt.Printf("Restored %s to %s\n", args[0], out)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Archive Dir: %s (layout %s, formats %v, compress %v)\n",
			cfg.Archive.OutputDir, cfg.Archive.Layout, cfg.Archive.Formats, cfg.Archive.Compress)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		for _, p := range cfg.Providers {
			fmt.Printf("Provider:    %s (%s)\n", p.Name, p.Type)
		}
		return nil
	},
}

var configEncryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Manage snapshot encryption",
}

var configEncryptionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.SetupEncryption(cfg.Encryption, passphrase); err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		fmt.Printf("Public key written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

func init() {
	// archive flags
	af := archiveCmd.Flags()
	af.String("since", "", "Only conversations updated at or after this time")
	af.String("until", "", "Only conversations updated at or before this time")
	af.IntP("limit", "n", 0, "Maximum number of conversations")
	af.StringSlice("id", nil, "Archive only these conversation ids")
	af.StringP("search", "s", "", "Only conversations whose title or preview contains this text")
	af.Bool("dry-run", false, "Fetch but write nothing")
	af.Bool("no-media", false, "Skip attachment downloads")
	af.Bool("skip-existing", false, "Skip conversations whose stored copy is current")
	af.IntP("concurrency", "c", 0, "Worker count override (1-20)")
	af.BoolP("quiet", "q", false, "Suppress per-conversation progress")

	// media subcommands
	mediaCmd.AddCommand(mediaStatsCmd)
	mediaCmd.AddCommand(mediaCleanupCmd)

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotRestoreCmd.Flags().StringP("out", "o", "", "Destination file")
	snapshotRestoreCmd.MarkFlagRequired("out")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configEncryptionCmd)
	configEncryptionCmd.AddCommand(configEncryptionInitCmd)

	// root commands
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(mediaCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(configCmd)
}
