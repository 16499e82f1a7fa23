package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ratingsync/internal/engine"
	"github.com/roach88/ratingsync/internal/identity"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Force bool
	Reset bool

	// PassIDs allows overriding the pass id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	PassIDs engine.PassIDGenerator
}

// SyncResult is the output of the sync command.
type SyncResult struct {
	engine.Summary
	Pending int `json:"pending"`
	Reset   int `json:"reset,omitempty"`
}

// RenderText implements TextRenderer.
func (r SyncResult) RenderText(w io.Writer) error {
	if r.Reset > 0 {
		fmt.Fprintf(w, "Reset %d abandoned rating(s)\n", r.Reset)
	}
	_, err := fmt.Fprintf(w,
		"Sync %s in %s: %d delivered, %d failed, %d skipped, %d abandoned (%d pending)\n",
		r.Outcome, r.Duration, r.Success, r.Failed, r.Skipped, r.Abandoned, r.Pending)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return err
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver pending ratings now",
		Long: `Run one sync pass against the configured API.

Records still in backoff are skipped and records that used up their retry
budget are left alone unless --force is given. --reset gives abandoned
records a fresh retry budget before the pass.

Example:
  ratingsync sync
  ratingsync sync --force --format json
  ratingsync sync --reset`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "ignore backoff and the retry budget")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "clear attempts of abandoned ratings first")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	logger := opts.setupLogging(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	ag, err := openAgent(cfg, logger)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStorage, "failed to open data directory", err)
	}
	defer ag.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ag.recover(ctx)

	reset := 0
	if opts.Reset {
		if reset, err = resetAbandoned(ctx, ag, cfg.Sync.MaxRetries); err != nil {
			return out.Fail(ExitFailure, CodeStorage, "failed to reset abandoned ratings", err)
		}
	}

	passIDs := opts.PassIDs
	if passIDs == nil {
		passIDs = engine.UUIDv7Generator{}
	}
	client := engine.NewClient(cfg.APIBase, ag.deviceID,
		engine.WithTabletNumber(func() string { return identity.TabletNumber(ag.profile) }))
	eng := engine.New(ag.records, client,
		engine.WithConfig(cfg.Engine()),
		engine.WithPassIDs(passIDs),
		engine.WithLogger(logger))

	run := eng.SyncData
	if opts.Force {
		run = eng.ForceSync
	}
	sum, err := run(ctx)
	if err != nil {
		return out.Fail(ExitFailure, CodeStorage, "sync pass failed", err)
	}

	pending, err := ag.records.CountUnsynced(ctx)
	if err != nil {
		return out.Fail(ExitFailure, CodeStorage, "failed to count pending ratings", err)
	}
	if err := out.Success(SyncResult{Summary: sum, Pending: pending, Reset: reset}); err != nil {
		return err
	}
	if sum.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d rating(s) could not be delivered", sum.Failed))
	}
	return nil
}

// resetAbandoned clears the attempt count of every record that used up its
// retry budget and returns how many were reset.
func resetAbandoned(ctx context.Context, ag *agent, maxRetries int) (int, error) {
	recs, err := ag.records.GetUnsynced(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.SyncAttempts < maxRetries {
			continue
		}
		if err := ag.records.ResetAttempts(ctx, rec.ID); err != nil {
			return n, err
		}
		ag.logger.Info("abandoned rating reset", "id", rec.ID, "attempts", rec.SyncAttempts)
		n++
	}
	return n, nil
}
