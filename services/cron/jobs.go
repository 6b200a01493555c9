package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/learnhub/payments-api/model"
)

const jobTimeout = 2 * time.Minute

// RetryPendingActivations re-runs enrollment activation for payments that
// committed but whose activation call timed out
func (m *CronManager) RetryPendingActivations() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	retried, err := m.reconciliation.RetryPendingActivations(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("retried %d pending activations", retried), nil
}

// CleanupOldJobLogs removes cron job logs older than 90 days
func (m *CronManager) CleanupOldJobLogs() (string, error) {
	cutoff := time.Now().AddDate(0, 0, -90)
	result := m.db.Where("created_at < ?", cutoff).Delete(&model.CronJobLog{})
	if result.Error != nil {
		return "", result.Error
	}
	return fmt.Sprintf("deleted %d old cron job logs", result.RowsAffected), nil
}
