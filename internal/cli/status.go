package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ratingsync/internal/identity"
	"github.com/roach88/ratingsync/internal/rating"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Recent int
}

// StatusResult is the output of the status command.
type StatusResult struct {
	DeviceID     string          `json:"deviceId"`
	TabletNumber string          `json:"tabletNumber"`
	Pending      int             `json:"pending"`
	Abandoned    int             `json:"abandoned"`
	Fallback     int             `json:"fallbackRecords"`
	Degraded     string          `json:"degraded,omitempty"`
	Recent       []rating.Record `json:"recent,omitempty"`
}

// RenderText implements TextRenderer.
func (r StatusResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Device:     %s (tablet %s)\n", r.DeviceID, r.TabletNumber)
	fmt.Fprintf(w, "Pending:    %d\n", r.Pending)
	fmt.Fprintf(w, "Abandoned:  %d\n", r.Abandoned)
	fmt.Fprintf(w, "Fallback:   %d\n", r.Fallback)
	if r.Degraded != "" {
		fmt.Fprintf(w, "Degraded:   %s\n", r.Degraded)
	}
	for _, rec := range r.Recent {
		state := "pending"
		if rec.Synced {
			state = "synced"
		} else if rec.SyncAttempts > 0 {
			state = fmt.Sprintf("pending, %d attempt(s)", rec.SyncAttempts)
		}
		fmt.Fprintf(w, "  #%d %s rating=%d %s [%s]\n",
			rec.ID, rec.Identifier, rec.Rating, rating.FormatTime(rec.Timestamp), state)
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local queue",
		Long: `Show pending and abandoned ratings and the device identity.

Example:
  ratingsync status --recent 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Recent, "recent", 0, "also list the N most recent ratings")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
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

	res := StatusResult{
		DeviceID:     ag.deviceID,
		TabletNumber: identity.TabletNumber(ag.profile),
		Fallback:     ag.records.FallbackCount(),
	}
	if res.Pending, err = ag.records.CountUnsynced(ctx); err != nil {
		return out.Fail(ExitFailure, CodeStorage, "failed to count pending ratings", err)
	}
	if cause := ag.records.Degraded(); cause != nil {
		res.Degraded = cause.Error()
	}
	if res.Abandoned, err = ag.records.CountAbandoned(ctx, cfg.Sync.MaxRetries); err != nil {
		return out.Fail(ExitFailure, CodeStorage, "failed to count abandoned ratings", err)
	}
	if primary, err := ag.primary(); err == nil {
		if opts.Recent > 0 {
			if res.Recent, err = primary.ListRecent(ctx, opts.Recent); err != nil {
				return out.Fail(ExitFailure, CodeStorage, "failed to list ratings", err)
			}
		}
	}
	return out.Success(res)
}
