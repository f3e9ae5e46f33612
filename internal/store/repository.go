/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the ledger-service. By defining
 * an interface, we decouple the transfer engine's business logic from the
 * specific database implementation (PostgreSQL), making the code more modular
 * and easier to test.
 *
 * The central piece is `WithAccountsLocked`: the atomic scope in which the
 * transfer engine reads consistent snapshots of both accounts and writes the
 * two balance mutations plus the ledger row as one unit. Either everything
 * inside the scope commits together or nothing is written.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/sparynx/ledger-service/internal/domain"
)

// TransferScope is handed to the function passed to WithAccountsLocked. The
// sender and receiver snapshots are read under row locks, so a balance seen
// through the scope cannot be changed by a concurrent transfer until the
// scope commits or rolls back.
type TransferScope interface {
	// Sender returns the locked snapshot of the sending account.
	Sender() *domain.Account
	// Receiver returns the locked snapshot of the receiving account.
	Receiver() *domain.Account
	// MoveFunds debits the sender and credits the receiver by amount.
	MoveFunds(ctx context.Context, amount int64) error
	// RecordTransfer appends the immutable ledger row. A reference collision
	// surfaces as ErrReferenceTaken.
	RecordTransfer(ctx context.Context, transfer *domain.Transfer) error
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID, ownerID string) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	// FindAccountByOwnerAndNumber also loads PIN security fields; it backs
	// the transfer engine's sender lookup and the PIN flows.
	FindAccountByOwnerAndNumber(ctx context.Context, ownerID string, accountNumber string) (*domain.Account, error)
	AccountNumberExists(ctx context.Context, accountNumber string) (bool, error)

	// PIN methods
	// SetAccountPIN persists hash and flag together; it fails with
	// ErrPINAlreadySet when the account already has a PIN.
	SetAccountPIN(ctx context.Context, accountID uuid.UUID, pinHash string) error
	// RecordFailedPINAttempt atomically increments failed attempts and
	// applies the lockout window once maxAttempts is reached.
	RecordFailedPINAttempt(ctx context.Context, accountID uuid.UUID, maxAttempts int, lockoutSeconds int) (*domain.Account, error)
	ResetPINFailureState(ctx context.Context, accountID uuid.UUID) error

	// Transfer methods
	WithAccountsLocked(ctx context.Context, senderID, receiverID uuid.UUID, fn func(scope TransferScope) error) error
	FindTransfersByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transfer, error)
}
