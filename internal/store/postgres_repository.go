/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to interact with the `accounts`
 * and `transfers` tables, including the row-locked atomic scope that backs
 * the transfer engine's commit step.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sparynx/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrPINNotSet          = errors.New("transaction pin not set")
	ErrPINAlreadySet      = errors.New("transaction pin already set")
	ErrReferenceTaken     = errors.New("transfer reference already assigned")
	ErrAccountNumberTaken = errors.New("account number already assigned")
)

const pgUniqueViolation = "23505"

const accountColumns = `
	id, owner_id, account_number, account_name, account_type, currency,
	balance, pin_set, COALESCE(pin_hash, '') AS pin_hash,
	failed_pin_attempts, pin_locked_until, created_at, updated_at
`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID, &account.OwnerID, &account.AccountNumber, &account.AccountName,
		&account.AccountType, &account.Currency, &account.Balance, &account.PINSet,
		&account.PINHash, &account.FailedPINAttempts, &account.PINLockedUntil,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount inserts a new account row. The account number must already be
// generated; a unique violation on it surfaces as ErrAccountNumberTaken so
// the caller can regenerate.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (id, owner_id, account_number, account_name, account_type, currency, balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID,
		account.OwnerID,
		account.AccountNumber,
		account.AccountName,
		account.AccountType,
		account.Currency,
		account.Balance,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrAccountNumberTaken
		}
		return nil, err
	}
	return account, nil
}

// FindAccountsByOwner retrieves all accounts belonging to an owner, newest first.
func (r *PostgresRepository) FindAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// FindAccountByID retrieves one account owned by ownerID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID, ownerID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND owner_id = $2`
	return scanAccount(r.db.QueryRow(ctx, query, accountID, ownerID))
}

// FindAccountByNumber retrieves an account by its number regardless of owner.
// Receivers may belong to any identity.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountNumber))
}

// FindAccountByOwnerAndNumber retrieves an account by owner and number,
// including the stored PIN hash and lockout state.
func (r *PostgresRepository) FindAccountByOwnerAndNumber(ctx context.Context, ownerID string, accountNumber string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND account_number = $2`
	return scanAccount(r.db.QueryRow(ctx, query, ownerID, accountNumber))
}

// AccountNumberExists reports whether an account number is already assigned.
func (r *PostgresRepository) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`, accountNumber,
	).Scan(&exists)
	return exists, err
}

// SetAccountPIN persists the PIN hash and flag together. The guarded WHERE
// clause makes the transition one-shot: once pin_set is true the update
// matches no rows and the caller gets ErrPINAlreadySet.
func (r *PostgresRepository) SetAccountPIN(ctx context.Context, accountID uuid.UUID, pinHash string) error {
	query := `
		UPDATE accounts
		SET pin_hash = $2, pin_set = TRUE, updated_at = NOW()
		WHERE id = $1 AND pin_set = FALSE
	`
	result, err := r.db.Exec(ctx, query, accountID, pinHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var pinSet bool
		if err := r.db.QueryRow(ctx, `SELECT pin_set FROM accounts WHERE id = $1`, accountID).Scan(&pinSet); err != nil {
			if err == pgx.ErrNoRows {
				return ErrAccountNotFound
			}
			return err
		}
		if pinSet {
			return ErrPINAlreadySet
		}
		return ErrAccountNotFound
	}
	return nil
}

// RecordFailedPINAttempt atomically increments failed attempts and applies
// the lockout window. An expired lockout restarts the count at 1.
func (r *PostgresRepository) RecordFailedPINAttempt(ctx context.Context, accountID uuid.UUID, maxAttempts int, lockoutSeconds int) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET
			failed_pin_attempts = CASE
				WHEN (pin_locked_until IS NOT NULL AND pin_locked_until <= NOW())
					OR (pin_locked_until IS NULL AND failed_pin_attempts >= $2) THEN 1
				ELSE failed_pin_attempts + 1
			END,
			pin_locked_until = CASE
				WHEN (
					CASE
						WHEN (pin_locked_until IS NOT NULL AND pin_locked_until <= NOW())
							OR (pin_locked_until IS NULL AND failed_pin_attempts >= $2) THEN 1
						ELSE failed_pin_attempts + 1
					END
				) >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns + `
	`
	return scanAccount(r.db.QueryRow(ctx, query, accountID, maxAttempts, lockoutSeconds))
}

// ResetPINFailureState clears failed-attempt counters after a successful PIN verification.
func (r *PostgresRepository) ResetPINFailureState(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE accounts
		SET failed_pin_attempts = 0, pin_locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// pgTransferScope implements TransferScope over an open pgx transaction.
type pgTransferScope struct {
	tx       pgx.Tx
	sender   *domain.Account
	receiver *domain.Account
}

func (s *pgTransferScope) Sender() *domain.Account   { return s.sender }
func (s *pgTransferScope) Receiver() *domain.Account { return s.receiver }

// MoveFunds debits the sender and credits the receiver inside the scope's
// transaction. The accounts table CHECK (balance >= 0) backstops the
// engine's sufficiency gate.
func (s *pgTransferScope) MoveFunds(ctx context.Context, amount int64) error {
	if _, err := s.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $1, updated_at = NOW() WHERE id = $2`,
		amount, s.sender.ID,
	); err != nil {
		return err
	}
	_, err := s.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2`,
		amount, s.receiver.ID,
	)
	return err
}

// RecordTransfer appends the ledger row inside the scope's transaction.
func (s *pgTransferScope) RecordTransfer(ctx context.Context, transfer *domain.Transfer) error {
	query := `
		INSERT INTO transfers (id, reference, sender_account_id, receiver_account_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.tx.Exec(ctx, query,
		transfer.ID,
		transfer.Reference,
		transfer.SenderAccountID,
		transfer.ReceiverAccountID,
		transfer.Amount,
		transfer.Currency,
		transfer.Status,
		transfer.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrReferenceTaken
		}
		return err
	}
	return nil
}

// WithAccountsLocked opens the atomic scope for a transfer. Both account rows
// are locked FOR UPDATE in a deterministic order so two concurrent transfers
// touching the same accounts cannot deadlock; the snapshots handed to fn are
// therefore the committed state immediately before this transfer applies.
// Any error from fn rolls the whole scope back, leaving balances and the
// ledger exactly as before.
func (r *PostgresRepository) WithAccountsLocked(ctx context.Context, senderID, receiverID uuid.UUID, fn func(scope TransferScope) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			// Balances may be inconsistent with the ledger until the
			// connection-level abort completes; flag for reconciliation.
			log.Printf("level=error component=store msg=\"transfer scope rollback failed\" sender_account_id=%s receiver_account_id=%s err=%v",
				senderID, receiverID, rbErr)
		}
	}()

	first, second := senderID, receiverID
	if second.String() < first.String() {
		first, second = second, first
	}

	lockQuery := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	firstAccount, err := scanAccount(tx.QueryRow(ctx, lockQuery, first))
	if err != nil {
		return err
	}
	secondAccount, err := scanAccount(tx.QueryRow(ctx, lockQuery, second))
	if err != nil {
		return err
	}

	scope := &pgTransferScope{tx: tx}
	if firstAccount.ID == senderID {
		scope.sender, scope.receiver = firstAccount, secondAccount
	} else {
		scope.sender, scope.receiver = secondAccount, firstAccount
	}

	if err := fn(scope); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// FindTransfersByAccount retrieves the transfer history for an account, as
// sender or receiver, most recent first. Account numbers are joined in for
// display.
func (r *PostgresRepository) FindTransfersByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transfer, error) {
	query := `
		SELECT t.id, t.reference, t.sender_account_id, t.receiver_account_id,
		       s.account_number, rcv.account_number,
		       t.amount, t.currency, t.status, t.created_at
		FROM transfers t
		JOIN accounts s ON s.id = t.sender_account_id
		JOIN accounts rcv ON rcv.id = t.receiver_account_id
		WHERE t.sender_account_id = $1 OR t.receiver_account_id = $1
		ORDER BY t.created_at DESC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		err := rows.Scan(
			&t.ID, &t.Reference, &t.SenderAccountID, &t.ReceiverAccountID,
			&t.SenderAccountNumber, &t.ReceiverAccountNumber,
			&t.Amount, &t.Currency, &t.Status, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
