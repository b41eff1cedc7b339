package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/papertrader/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// Disk space thresholds in bytes
const (
	criticalFreeBytes = 500 * 1000 * 1000
	warnFreeBytes     = 5 * 1000 * 1000 * 1000
)

// MaintenanceJob performs daily ledger maintenance: integrity check,
// WAL truncation and a disk space check.
type MaintenanceJob struct {
	db      *database.DB
	dataDir string
	timeout time.Duration
	log     zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		dataDir: dataDir,
		timeout: 5 * time.Minute,
		log:     log.With().Str("job", "ledger_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "ledger_maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.log.Info().Msg("Starting ledger maintenance")
	startTime := time.Now()

	if err := j.checkIntegrity(ctx); err != nil {
		j.log.Error().Err(err).Msg("CRITICAL: Ledger integrity check failed")
		return err
	}

	// Not critical; the next checkpoint retries
	if _, err := j.db.Conn().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(ctx); err != nil {
		return err
	}

	j.logGrowth()

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Ledger maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkIntegrity(ctx context.Context) error {
	var result string
	if err := j.db.Conn().QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

// checkDiskSpace verifies sufficient disk space is available
func (j *MaintenanceJob) checkDiskSpace(ctx context.Context) error {
	usage, err := disk.UsageWithContext(ctx, j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(usage.Free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %.2f GB free", availableGB)
	case usage.Free < warnFreeBytes:
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}
	return nil
}

func (j *MaintenanceJob) logGrowth() {
	stats, err := j.db.GetStats()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read ledger stats")
		return
	}
	j.log.Info().
		Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
		Float64("wal_mb", float64(stats.WALSizeBytes)/1024/1024).
		Int64("pages", stats.PageCount).
		Msg("Ledger size")
}
