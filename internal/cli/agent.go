package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/ratingsync/internal/config"
	"github.com/roach88/ratingsync/internal/identity"
	"github.com/roach88/ratingsync/internal/kv"
	"github.com/roach88/ratingsync/internal/store"
)

// agent holds the persistent state shared by every command: the device
// profile and the record store in the configured data directory.
type agent struct {
	cfg      config.Config
	profile  *kv.Store
	deviceID string
	records  *store.Records
	logger   *slog.Logger
}

// openAgent opens the profile and the record store. A record store that
// cannot be opened leaves the agent degraded rather than failing.
func openAgent(cfg config.Config, logger *slog.Logger, opts ...store.RecordsOption) (*agent, error) {
	profile, err := kv.Open(cfg.DataDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open profile", err)
	}
	deviceID, err := identity.DeviceID(profile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load device id", err)
	}

	opts = append([]store.RecordsOption{store.WithLogger(logger)}, opts...)
	records := store.OpenRecords(cfg.DatabasePath(), profile, deviceID, nil, opts...)
	return &agent{
		cfg:      cfg,
		profile:  profile,
		deviceID: deviceID,
		records:  records,
		logger:   logger,
	}, nil
}

// recover moves ratings saved while the store was unavailable back into it.
func (a *agent) recover(ctx context.Context) {
	if a.records.Degraded() != nil || a.records.FallbackCount() == 0 {
		return
	}
	n, err := a.records.MergeFallback(ctx)
	if err != nil {
		a.logger.Warn("fallback merge incomplete", "merged", n, "error", err)
		return
	}
	a.logger.Info("fallback ratings recovered", "merged", n)
}

// primary returns the SQLite store or an error naming why it is missing.
func (a *agent) primary() (*store.Store, error) {
	if p := a.records.Primary(); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("record store unavailable: %w", a.records.Degraded())
}

func (a *agent) Close() {
	if err := a.records.Close(); err != nil {
		a.logger.Error("error closing record store", "error", err)
	}
}
