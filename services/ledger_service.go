package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/learnhub/payments-api/model"
	"github.com/learnhub/payments-api/utils/cache"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	statsCacheKey = "admin:transaction_stats"
	statsCacheTTL = 30 * time.Second
)

// LedgerService is the durable store for transactions and audit entries.
// It owns filtering, pagination, aggregate statistics and the CSV
// projection; it performs no network calls beyond the optional stats cache.
type LedgerService struct {
	db    *gorm.DB
	cache *cache.RedisCache // optional, nil disables stats caching
}

// NewLedgerService creates a new ledger service
func NewLedgerService(db *gorm.DB, c *cache.RedisCache) *LedgerService {
	return &LedgerService{db: db, cache: c}
}

// WithTx returns a copy of the service bound to an open transaction
func (s *LedgerService) WithTx(tx *gorm.DB) *LedgerService {
	return &LedgerService{db: tx, cache: s.cache}
}

// ListFilter narrows the transaction list
type ListFilter struct {
	Status   string
	Search   string // reference, user name or user email
	Page     int
	PageSize int
}

// TransactionStats is the aggregate snapshot returned alongside every list
type TransactionStats struct {
	Total        int64           `json:"total"`
	Pending      int64           `json:"pending"`
	Successful   int64           `json:"successful"`
	Failed       int64           `json:"failed"`
	Cancelled    int64           `json:"cancelled"`
	Partial      int64           `json:"partial"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

// TransactionDetail is the full drill-down for one transaction
type TransactionDetail struct {
	Payment        model.Transaction       `json:"payment"`
	SplitInfo      *model.SplitPaymentPlan `json:"split_info,omitempty"`
	PaymentHistory []model.Transaction     `json:"payment_history"`
	AuditTrail     []model.AuditEntry      `json:"audit_trail"`
}

// InsertTransaction persists a new transaction row
func (s *LedgerService) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	if tx.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	s.invalidateStats(ctx)
	return nil
}

// UpdateStatus atomically moves a transaction to newStatus and records the
// admin note on the row. The caller must have evaluated the state machine
// first; this method does no transition checking of its own.
func (s *LedgerService) UpdateStatus(ctx context.Context, id uint, newStatus model.TransactionStatus, note string) (*model.Transaction, error) {
	var tx model.Transaction
	if err := s.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	updates := map[string]interface{}{"status": newStatus}
	if note != "" {
		updates["admin_override_note"] = note
	}
	if err := s.db.WithContext(ctx).Model(&tx).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	s.invalidateStats(ctx)
	return &tx, nil
}

// GetByID loads a single transaction with its user and course
func (s *LedgerService) GetByID(ctx context.Context, id uint) (*model.Transaction, error) {
	var tx model.Transaction
	err := s.db.WithContext(ctx).Preload("User").Preload("Course").First(&tx, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &tx, nil
}

// GetByReference loads a transaction by its unique external reference
func (s *LedgerService) GetByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	var tx model.Transaction
	err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &tx, nil
}

// List returns a page of transactions plus the total count and the current
// aggregate stats snapshot
func (s *LedgerService) List(ctx context.Context, filter ListFilter) ([]model.Transaction, int64, *TransactionStats, error) {
	query := s.filtered(ctx, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var transactions []model.Transaction
	if err := query.
		Preload("User").
		Preload("Course").
		Order("payment_transactions.created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&transactions).Error; err != nil {
		return nil, 0, nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, 0, nil, err
	}

	return transactions, total, stats, nil
}

func (s *LedgerService) filtered(ctx context.Context, filter ListFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&model.Transaction{})

	if filter.Status != "" {
		query = query.Where("payment_transactions.status = ?", filter.Status)
	}
	if filter.Search != "" {
		needle := "%" + strings.ToLower(filter.Search) + "%"
		query = query.
			Joins("LEFT JOIN users ON users.id = payment_transactions.user_id").
			Where("LOWER(payment_transactions.reference) LIKE ? OR LOWER(users.email) LIKE ? OR LOWER(users.name) LIKE ?",
				needle, needle, needle)
	}

	return query
}

// Stats computes the per-status counts and total successful revenue. The
// snapshot is cached briefly in Redis and invalidated on every write.
func (s *LedgerService) Stats(ctx context.Context) (*TransactionStats, error) {
	if s.cache != nil {
		var cached TransactionStats
		if err := s.cache.GetJSON(ctx, statsCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	var rows []struct {
		Status model.TransactionStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to compute transaction stats: %w", err)
	}

	stats := &TransactionStats{TotalRevenue: decimal.Zero}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case model.StatusPending:
			stats.Pending = row.Count
		case model.StatusSuccessful:
			stats.Successful = row.Count
		case model.StatusFailed:
			stats.Failed = row.Count
		case model.StatusCancelled:
			stats.Cancelled = row.Count
		case model.StatusPartial:
			stats.Partial = row.Count
		}
	}

	var revenue struct {
		Total decimal.Decimal
	}
	if err := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount), 0) as total").
		Where("status = ?", model.StatusSuccessful).
		Scan(&revenue).Error; err != nil {
		return nil, fmt.Errorf("failed to compute total revenue: %w", err)
	}
	stats.TotalRevenue = revenue.Total

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, statsCacheKey, stats, statsCacheTTL); err != nil {
			log.Printf("Failed to cache transaction stats: %v", err)
		}
	}

	return stats, nil
}

func (s *LedgerService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		log.Printf("Failed to invalidate transaction stats cache: %v", err)
	}
}

// GetDetail returns the transaction, its full payment history (every
// transaction sharing the same enrollment, oldest first) and its audit
// trail (newest first). Split plan aggregates are attached by the caller.
func (s *LedgerService) GetDetail(ctx context.Context, id uint) (*TransactionDetail, error) {
	tx, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &TransactionDetail{Payment: *tx}

	if tx.EnrollmentID != nil {
		if err := s.db.WithContext(ctx).
			Where("enrollment_id = ?", *tx.EnrollmentID).
			Order("created_at ASC").
			Find(&detail.PaymentHistory).Error; err != nil {
			return nil, fmt.Errorf("failed to load payment history: %w", err)
		}
	} else {
		detail.PaymentHistory = []model.Transaction{*tx}
	}

	if err := s.db.WithContext(ctx).
		Where("transaction_id = ?", tx.ID).
		Order("created_at DESC").
		Find(&detail.AuditTrail).Error; err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}

	return detail, nil
}

// AppendAudit writes one immutable audit entry
func (s *LedgerService) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ExportCSV streams the filtered transaction list as CSV and returns the
// number of data rows written (header excluded)
func (s *LedgerService) ExportCSV(ctx context.Context, status string, w io.Writer) (int, error) {
	var transactions []model.Transaction
	query := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Preload("User").
		Preload("Course").
		Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&transactions).Error; err != nil {
		return 0, fmt.Errorf("failed to load transactions for export: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"reference", "user", "course", "amount", "currency", "method", "status", "created_at"}); err != nil {
		return 0, err
	}

	for _, tx := range transactions {
		course := ""
		if tx.Course != nil {
			course = tx.Course.Title
		}
		record := []string{
			tx.Reference,
			tx.User.Email,
			course,
			tx.Amount.StringFixed(2),
			tx.Currency,
			string(tx.PaymentMethod),
			string(tx.Status),
			tx.CreatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return 0, err
		}
	}

	writer.Flush()
	return len(transactions), writer.Error()
}
