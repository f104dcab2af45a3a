package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DepositStatusSent   = "sent"
	DepositStatusFailed = "failed"

	depositClientNameMaxLength = 200
	depositAddressMaxLength    = 500
	depositCoordinateMaxLength = 32
	depositErrorMaxLength      = 2000
)

var (
	ErrInvalidDepositClient = errors.New("invalid_deposit_client")
	ErrInvalidDepositStatus = errors.New("invalid_deposit_status")
)

// Deposit journals one submission of the deposit form.
type Deposit struct {
	ID           string    `gorm:"primaryKey;size:36"`
	ClientName   string    `gorm:"not null;size:200;index"`
	Address      string    `gorm:"not null;size:500"`
	Latitude     string    `gorm:"size:32"`
	Longitude    string    `gorm:"size:32"`
	PhotoCount   int       `gorm:"not null"`
	CollageCount int       `gorm:"not null"`
	Status       string    `gorm:"not null;size:16;index"`
	Error        string    `gorm:"size:2000"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index"`
}

// DepositInput holds the raw values used to construct a Deposit.
type DepositInput struct {
	ClientName   string
	Address      string
	Latitude     string
	Longitude    string
	PhotoCount   int
	CollageCount int
	Status       string
	Error        string
}

// NewDeposit constructs a Deposit with validated, normalized fields.
func NewDeposit(input DepositInput) (Deposit, error) {
	clientName := strings.TrimSpace(input.ClientName)
	if clientName == "" {
		return Deposit{}, ErrInvalidDepositClient
	}

	status := strings.TrimSpace(input.Status)
	switch status {
	case DepositStatusSent, DepositStatusFailed:
	default:
		return Deposit{}, fmt.Errorf("%w: %q", ErrInvalidDepositStatus, status)
	}

	return Deposit{
		ID:           uuid.NewString(),
		ClientName:   truncate(clientName, depositClientNameMaxLength),
		Address:      truncate(strings.TrimSpace(input.Address), depositAddressMaxLength),
		Latitude:     truncate(strings.TrimSpace(input.Latitude), depositCoordinateMaxLength),
		Longitude:    truncate(strings.TrimSpace(input.Longitude), depositCoordinateMaxLength),
		PhotoCount:   input.PhotoCount,
		CollageCount: input.CollageCount,
		Status:       status,
		Error:        truncate(strings.TrimSpace(input.Error), depositErrorMaxLength),
	}, nil
}

func truncate(value string, maxLength int) string {
	runes := []rune(value)
	if len(runes) <= maxLength {
		return value
	}
	return string(runes[:maxLength])
}
