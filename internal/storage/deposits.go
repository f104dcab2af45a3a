package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/model"
)

const (
	// DefaultRecentDepositsLimit bounds the journal listing when no limit is requested.
	DefaultRecentDepositsLimit = 50
	maxRecentDepositsLimit     = 500

	errorMessageMissingDatabase = "storage: missing database"
	errorMessageRecordDeposit   = "storage: record deposit"
	errorMessageListDeposits    = "storage: list deposits"
)

// ErrMissingDatabase indicates the journal was built without a database handle.
var ErrMissingDatabase = errors.New(errorMessageMissingDatabase)

// DepositJournal persists the outcome of every deposit submission.
type DepositJournal struct {
	database *gorm.DB
}

// NewDepositJournal wraps the database in a DepositJournal.
func NewDepositJournal(database *gorm.DB) (*DepositJournal, error) {
	if database == nil {
		return nil, ErrMissingDatabase
	}
	return &DepositJournal{database: database}, nil
}

// Record stores a deposit outcome.
func (journal *DepositJournal) Record(ctx context.Context, deposit model.Deposit) error {
	if err := journal.database.WithContext(ctx).Create(&deposit).Error; err != nil {
		return fmt.Errorf("%s: %w", errorMessageRecordDeposit, err)
	}
	return nil
}

// Recent lists the latest deposits, newest first.
func (journal *DepositJournal) Recent(ctx context.Context, limit int) ([]model.Deposit, error) {
	if limit <= 0 {
		limit = DefaultRecentDepositsLimit
	}
	if limit > maxRecentDepositsLimit {
		limit = maxRecentDepositsLimit
	}

	var deposits []model.Deposit
	queryErr := journal.database.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&deposits).Error
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageListDeposits, queryErr)
	}
	return deposits, nil
}
