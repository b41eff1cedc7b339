package scheduler

import (
	"context"
	"time"
)

// Admitter starts at most one trade per call
type Admitter interface {
	Tick(ctx context.Context)
}

// Refresher reloads cached state from durable storage
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Backuper takes an off-site snapshot
type Backuper interface {
	Backup(ctx context.Context) error
}

// AdmissionJob runs one admission cycle of the trade orchestrator
type AdmissionJob struct {
	admitter Admitter
	timeout  time.Duration
}

// NewAdmissionJob creates an admission job. timeout bounds one cycle,
// including the start request to the recommendation service.
func NewAdmissionJob(admitter Admitter, timeout time.Duration) *AdmissionJob {
	return &AdmissionJob{admitter: admitter, timeout: timeout}
}

// Name returns the job name
func (j *AdmissionJob) Name() string {
	return "trade_admission"
}

// Run executes one admission cycle. Failures are logged by the admitter.
func (j *AdmissionJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	j.admitter.Tick(ctx)
	return nil
}

// RefreshJob reloads the orchestrator's portfolio and trade history from the ledger
type RefreshJob struct {
	refresher Refresher
	timeout   time.Duration
}

// NewRefreshJob creates a refresh job
func NewRefreshJob(refresher Refresher, timeout time.Duration) *RefreshJob {
	return &RefreshJob{refresher: refresher, timeout: timeout}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "ledger_refresh"
}

// Run executes the refresh
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.refresher.Refresh(ctx)
}

// BackupJob uploads a ledger snapshot
type BackupJob struct {
	backuper Backuper
	timeout  time.Duration
}

// NewBackupJob creates a backup job
func NewBackupJob(backuper Backuper, timeout time.Duration) *BackupJob {
	return &BackupJob{backuper: backuper, timeout: timeout}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "ledger_backup"
}

// Run executes the backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.backuper.Backup(ctx)
}
