package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/calllog"
	"github.com/aschepis/backscratcher/llmrt/toolcache"
)

const maintenanceTimeout = time.Minute

// MaintenanceReport is the outcome of one cleanup pass.
type MaintenanceReport struct {
	ExpiredEntries int
	DeletedLogs    int64
}

// Maintenance periodically evicts expired cache entries and deletes call logs
// older than the retention window.
type Maintenance struct {
	cron          *cron.Cron
	cache         *toolcache.Cache
	store         calllog.Store
	retentionDays int
	logger        zerolog.Logger
}

// NewMaintenance parses spec (standard cron syntax or descriptors such as
// "@every 10m") and registers the cleanup job. store may be nil, and a
// retention of zero or less keeps logs forever.
func NewMaintenance(spec string, cache *toolcache.Cache, store calllog.Store, retentionDays int, logger zerolog.Logger) (*Maintenance, error) {
	m := &Maintenance{
		cron:          cron.New(),
		cache:         cache,
		store:         store,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "maintenance").Logger(),
	}
	if _, err := m.cron.AddFunc(spec, m.scheduled); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	return m, nil
}

// Start begins running the job on schedule.
func (m *Maintenance) Start() {
	m.logger.Info().Msg("Starting maintenance scheduler")
	m.cron.Start()
}

// Stop prevents further runs and waits for a running job or ctx.
func (m *Maintenance) Stop(ctx context.Context) error {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		m.logger.Info().Msg("Maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Maintenance) scheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	if _, err := m.RunOnce(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Maintenance run failed")
	}
}

// RunOnce performs one cleanup pass immediately.
func (m *Maintenance) RunOnce(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	if m.cache != nil {
		report.ExpiredEntries = m.cache.CleanupExpired()
	}
	if m.store != nil && m.retentionDays > 0 {
		deleted, err := m.store.CleanupOldLogs(ctx, m.retentionDays)
		if err != nil {
			return report, fmt.Errorf("failed to clean up call logs: %w", err)
		}
		report.DeletedLogs = deleted
	}
	m.logger.Debug().
		Int("expiredEntries", report.ExpiredEntries).
		Int64("deletedLogs", report.DeletedLogs).
		Msg("Maintenance run complete")
	return report, nil
}
