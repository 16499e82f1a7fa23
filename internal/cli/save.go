package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/ratingsync/internal/rating"
)

// SaveOptions holds flags for the save command.
type SaveOptions struct {
	*RootOptions
	Comments string
}

// SaveResult is the output of the save command.
type SaveResult struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Rating     int    `json:"rating"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// RenderText implements TextRenderer.
func (r SaveResult) RenderText(w io.Writer) error {
	where := "record store"
	if r.Fallback {
		where = "fallback profile storage"
	}
	_, err := fmt.Fprintf(w, "Saved rating %d for %s as #%d (%s)\n", r.Rating, r.Identifier, r.ID, where)
	return err
}

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SaveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save <identifier> <rating>",
		Short: "Save a rating for later delivery",
		Long: `Save a rating into the local queue.

The rating is delivered by a running agent or by the next "ratingsync sync".

Example:
  ratingsync save CNA-5438 7 --comments "firm texture"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Comments, "comments", "", "free-text comments")

	return cmd
}

func runSave(opts *SaveOptions, identifier, value string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	logger := opts.setupLogging(cmd)

	n, err := strconv.Atoi(value)
	if err != nil || n < rating.MinValue || n > rating.MaxValue {
		return out.Fail(ExitCommandError, CodeInput,
			fmt.Sprintf("rating must be an integer between %d and %d", rating.MinValue, rating.MaxValue), nil)
	}

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
	id, err := ag.records.SaveRating(ctx, rating.Record{
		Identifier: identifier,
		Rating:     n,
		Comments:   opts.Comments,
	})
	if err != nil {
		return out.Fail(ExitFailure, CodeStorage, "rating could not be saved", err)
	}
	return out.Success(SaveResult{ID: id, Identifier: identifier, Rating: n, Fallback: id < 0})
}
