/**
 * @description
 * This file defines the transfer domain model: the immutable ledger record
 * written when funds move between two accounts, and the DTOs used by the
 * transfer API. A persisted transfer row is only ever written with status
 * `completed`; requests that fail validation are reported to the caller and
 * never journaled.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit.
 * - `NewTransfer` is the single construction boundary: amount positivity,
 *   the configured minimum, distinct parties and currency shape are all
 *   enforced here before the engine opens an atomic scope.
 */

package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transfer statuses.
const (
	TransferStatusPending   = "pending"
	TransferStatusCompleted = "completed"
	TransferStatusFailed    = "failed"
)

var (
	ErrInvalidAmount   = errors.New("transfer: amount must be positive and at or above the configured minimum")
	ErrSameAccount     = errors.New("transfer: sender and receiver must be different accounts")
	ErrInvalidCurrency = errors.New("transfer: currency must be one of the supported codes")
)

// Transfer represents one committed movement of funds between two accounts.
// This struct maps to the `transfers` table; rows are append-only.
type Transfer struct {
	ID                uuid.UUID `json:"id"`
	Reference         string    `json:"reference"`
	SenderAccountID   uuid.UUID `json:"sender_account_id"`
	ReceiverAccountID uuid.UUID `json:"receiver_account_id"`
	// Account numbers are joined in by history queries for display; they are
	// not columns on the transfers table.
	SenderAccountNumber   string    `json:"sender_account_number,omitempty"`
	ReceiverAccountNumber string    `json:"receiver_account_number,omitempty"`
	Amount                int64     `json:"amount"` // smallest currency unit
	Currency              string    `json:"currency"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
}

// NewTransferParams carries the validated inputs for constructing a transfer
// record. MinAmount is the configured floor in the smallest currency unit.
type NewTransferParams struct {
	SenderAccountID   uuid.UUID
	ReceiverAccountID uuid.UUID
	Amount            int64
	MinAmount         int64
	Currency          string
	Now               time.Time
}

// NewTransfer builds a transfer record ready for commit. Construction fails
// before any storage is touched.
func NewTransfer(p NewTransferParams) (*Transfer, error) {
	if p.Amount <= 0 || p.Amount < p.MinAmount {
		return nil, ErrInvalidAmount
	}
	if p.SenderAccountID == p.ReceiverAccountID {
		return nil, ErrSameAccount
	}
	cur := strings.ToUpper(strings.TrimSpace(p.Currency))
	if !IsSupportedCurrency(cur) {
		return nil, ErrInvalidCurrency
	}
	if p.Now.IsZero() {
		p.Now = time.Now().UTC()
	}

	return &Transfer{
		ID:                uuid.New(),
		SenderAccountID:   p.SenderAccountID,
		ReceiverAccountID: p.ReceiverAccountID,
		Amount:            p.Amount,
		Currency:          cur,
		Status:            TransferStatusCompleted,
		CreatedAt:         p.Now,
	}, nil
}

// TransferRequest is the DTO for incoming transfer API requests.
type TransferRequest struct {
	SenderAccountNumber   string `json:"sender_account_number"`
	ReceiverAccountNumber string `json:"receiver_account_number"`
	Amount                int64  `json:"amount"` // smallest currency unit
	TransactionPIN        string `json:"transaction_pin"`
}

// TransferCompletedEvent is the message payload published after a transfer
// commits, consumed by downstream notification services.
type TransferCompletedEvent struct {
	Reference             string    `json:"reference"`
	SenderAccountNumber   string    `json:"sender_account_number"`
	ReceiverAccountNumber string    `json:"receiver_account_number"`
	Amount                int64     `json:"amount"`
	Currency              string    `json:"currency"`
	Timestamp             time.Time `json:"timestamp"`
}
