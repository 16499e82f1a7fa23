package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// CachesOptions holds flags for the caches command.
type CachesOptions struct {
	*RootOptions
	Clear bool
}

// CacheGeneration describes one stored generation.
type CacheGeneration struct {
	Name    string   `json:"name"`
	Entries []string `json:"entries"`
}

// CachesResult is the output of the caches command.
type CachesResult struct {
	Generations []CacheGeneration `json:"generations"`
	Cleared     bool              `json:"cleared,omitempty"`
	verbose     bool
}

// RenderText implements TextRenderer.
func (r CachesResult) RenderText(w io.Writer) error {
	if len(r.Generations) == 0 {
		_, err := fmt.Fprintln(w, "No cache generations")
		return err
	}
	verb := "Cache"
	if r.Cleared {
		verb = "Cleared"
	}
	for _, g := range r.Generations {
		fmt.Fprintf(w, "%s %s (%d entries)\n", verb, g.Name, len(g.Entries))
		if r.verbose {
			for _, e := range g.Entries {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
	}
	return nil
}

// NewCachesCommand creates the caches command.
func NewCachesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CachesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "caches",
		Short: "List or clear asset cache generations",
		Long: `List the asset cache generations stored in the data directory.

With --clear every generation is deleted; a running agent reinstalls its
current generation on the next start.

Example:
  ratingsync caches -v
  ratingsync caches --clear`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCaches(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "delete every generation")

	return cmd
}

func runCaches(opts *CachesOptions, cmd *cobra.Command) error {
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

	primary, err := ag.primary()
	if err != nil {
		return out.Fail(ExitFailure, CodeStorage, "cache storage unavailable", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	names, err := primary.CacheKeys(ctx)
	if err != nil {
		return out.Fail(ExitFailure, CodeStorage, "failed to list caches", err)
	}

	res := CachesResult{Generations: []CacheGeneration{}, Cleared: opts.Clear, verbose: opts.Verbose}
	for _, name := range names {
		urls, err := primary.CacheURLs(ctx, name)
		if err != nil {
			return out.Fail(ExitFailure, CodeStorage, "failed to list cache entries", err)
		}
		res.Generations = append(res.Generations, CacheGeneration{Name: name, Entries: urls})
		if opts.Clear {
			if _, err := primary.DeleteCache(ctx, name); err != nil {
				return out.Fail(ExitFailure, CodeStorage, "failed to clear cache", err)
			}
			logger.Info("cache generation deleted", "generation", name)
		}
	}
	return out.Success(res)
}
