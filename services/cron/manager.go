package cron

import (
	"log"
	"time"

	"github.com/learnhub/payments-api/model"
	"github.com/learnhub/payments-api/services"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// CronManager manages all scheduled background jobs
type CronManager struct {
	cron           *cron.Cron
	db             *gorm.DB
	reconciliation *services.ReconciliationService
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, reconciliation *services.ReconciliationService) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:           c,
		db:             db,
		reconciliation: reconciliation,
	}
}

// Start registers and starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// Every 5 minutes: retry enrollment activations that failed after a
	// committed payment
	_, err := m.cron.AddFunc("0 */5 * * * *", func() {
		m.runJob("retry_pending_activations", m.RetryPendingActivations)
	})
	if err != nil {
		return err
	}

	// Daily at 3 AM: trim old cron job logs
	_, err = m.cron.AddFunc("0 0 3 * * *", func() {
		m.runJob("cleanup_cron_logs", m.CleanupOldJobLogs)
	})
	return err
}

// runJob executes a job and records its outcome in cron_job_logs
func (m *CronManager) runJob(name string, fn func() (string, error)) {
	started := time.Now()
	entry := model.CronJobLog{
		JobName:   name,
		Status:    "started",
		StartedAt: started,
	}
	if err := m.db.Create(&entry).Error; err != nil {
		log.Printf("Failed to record cron job start for %s: %v", name, err)
	}

	message, err := fn()

	completed := time.Now()
	updates := map[string]interface{}{
		"completed_at": &completed,
		"duration":     int(completed.Sub(started).Milliseconds()),
		"message":      message,
	}
	if err != nil {
		updates["status"] = "failed"
		updates["error_msg"] = err.Error()
		log.Printf("Cron job %s failed: %v", name, err)
	} else {
		updates["status"] = "completed"
	}

	if entry.ID != 0 {
		if err := m.db.Model(&entry).Updates(updates).Error; err != nil {
			log.Printf("Failed to record cron job result for %s: %v", name, err)
		}
	}
}
