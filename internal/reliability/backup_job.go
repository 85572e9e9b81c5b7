package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackupJob runs the nightly backup-and-rotate cycle. It satisfies the
// scheduler's Job interface.
type BackupJob struct {
	service       *BackupService
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewBackupJob creates the scheduled backup job.
func NewBackupJob(service *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		timeout:       30 * time.Minute,
		log:           log.With().Str("component", "backup_job").Logger(),
	}
}

// Name implements the scheduler Job interface.
func (j *BackupJob) Name() string {
	return "database_backup"
}

// Run implements the scheduler Job interface.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	if err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		// Rotation failure leaves extra archives behind, the next run
		// retries. Not fatal for the backup itself.
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	return nil
}
