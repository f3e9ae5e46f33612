/**
 * @description
 * This file contains the core business logic for the ledger-service. The
 * `Service` struct orchestrates all money movement operations, coordinating
 * between the database repository, the PIN authenticator, the identifier
 * generator, and the message broker.
 *
 * Key features:
 * - Implements the transfer engine: a fixed gate sequence
 *   (presence -> sender lookup -> PIN -> receiver lookup -> self-transfer ->
 *   currency -> amount/record construction -> sufficiency -> commit) where
 *   the first failing gate determines the rejection and no gate failure ever
 *   leaves a partial write behind.
 * - Commits both balance mutations and the ledger row inside one row-locked
 *   atomic scope; currency and sufficiency are re-validated on the locked
 *   snapshots so concurrent transfers on the same account serialize safely.
 * - Publishes a transfer.completed event after commit for asynchronous
 *   processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store, internal/idgen: Domain models, data
 *   access and identifier generation.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sparynx/ledger-service/internal/domain"
	"github.com/sparynx/ledger-service/internal/idgen"
	"github.com/sparynx/ledger-service/internal/store"
	"github.com/sparynx/ledger-service/pkg/rabbitmq"
)

// A reference collision at commit time is a regeneration signal, not a
// fatal error; the whole scope is retried with a fresh reference.
const maxReferenceAttempts = 3

var (
	ErrMissingField        = errors.New("sender account, receiver account, amount and transaction pin are required")
	ErrSelfTransfer        = errors.New("cannot transfer to the same account")
	ErrCurrencyMismatch    = errors.New("currency mismatch between accounts")
	ErrInvalidAccountName  = errors.New("account name is required")
	ErrInvalidAccountType  = errors.New("account type must be one of savings, checking, business, current")
	ErrUnsupportedCurrency = errors.New("currency must be one of NGN, EUR, GBP, USD")
	ErrNegativeBalance     = errors.New("initial balance must not be negative")
	ErrPINRateLimited      = errors.New("too many pin verification attempts")
)

// RateLimiter is the optional distributed limiter consulted before PIN
// verification. A nil limiter disables the check.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for accounts and transfers.
type Service struct {
	repo              store.Repository
	pins              *PINAuthenticator
	eventProducer     rabbitmq.Publisher
	eventExchange     string
	minTransferAmount int64

	pinRateLimiter     RateLimiter
	pinRateLimitPerMin int
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, pins *PINAuthenticator, producer rabbitmq.Publisher, minTransferAmount int64) *Service {
	if minTransferAmount <= 0 {
		minTransferAmount = 100
	}
	return &Service{
		repo:              repo,
		pins:              pins,
		eventProducer:     producer,
		eventExchange:     rabbitmq.LedgerEventsExchange,
		minTransferAmount: minTransferAmount,
	}
}

// SetEventExchange overrides the exchange transfer events are published to.
func (s *Service) SetEventExchange(exchange string) {
	if strings.TrimSpace(exchange) != "" {
		s.eventExchange = exchange
	}
}

// SetPINRateLimiter wires an optional distributed limiter for PIN
// verification attempts.
func (s *Service) SetPINRateLimiter(limiter RateLimiter, limitPerMinute int) {
	s.pinRateLimiter = limiter
	s.pinRateLimitPerMin = limitPerMinute
}

// MinTransferAmount returns the configured transfer floor in minor units.
func (s *Service) MinTransferAmount() int64 {
	return s.minTransferAmount
}

// CreateAccount validates the request, generates a collision-checked account
// number and persists the account with no PIN and the given opening balance.
func (s *Service) CreateAccount(ctx context.Context, ownerID string, req domain.CreateAccountRequest) (*domain.Account, error) {
	name := strings.TrimSpace(req.AccountName)
	if name == "" {
		return nil, ErrInvalidAccountName
	}
	if !domain.IsSupportedAccountType(req.AccountType) {
		return nil, ErrInvalidAccountType
	}
	if !domain.IsSupportedCurrency(req.Currency) {
		return nil, ErrUnsupportedCurrency
	}
	if req.InitialBalance < 0 {
		return nil, ErrNegativeBalance
	}

	number, err := idgen.AccountNumber(ctx, s.repo.AccountNumberExists)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		AccountNumber: number,
		AccountName:   name,
		AccountType:   strings.ToLower(strings.TrimSpace(req.AccountType)),
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		Balance:       req.InitialBalance,
	}

	created, err := s.repo.CreateAccount(ctx, account)
	if err != nil {
		if errors.Is(err, store.ErrAccountNumberTaken) {
			// Lost a race between the existence check and the insert; the
			// unique constraint is the final authority, so regenerate once.
			number, genErr := idgen.AccountNumber(ctx, s.repo.AccountNumberExists)
			if genErr != nil {
				return nil, genErr
			}
			account.AccountNumber = number
			return s.repo.CreateAccount(ctx, account)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// GetAccounts returns all accounts owned by ownerID, newest first.
func (s *Service) GetAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	return s.repo.FindAccountsByOwner(ctx, ownerID)
}

// GetAccount returns one account owned by ownerID.
func (s *Service) GetAccount(ctx context.Context, ownerID string, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByID(ctx, accountID, ownerID)
}

// GetAccountByNumber returns one account owned by ownerID, looked up by its
// account number.
func (s *Service) GetAccountByNumber(ctx context.Context, ownerID string, accountNumber string) (*domain.Account, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	if accountNumber == "" {
		return nil, store.ErrAccountNotFound
	}
	return s.repo.FindAccountByOwnerAndNumber(ctx, ownerID, accountNumber)
}

// VerifyAccount resolves an account number to its public identification
// fields so a sender can confirm the receiver before transferring.
func (s *Service) VerifyAccount(ctx context.Context, accountNumber string) (*domain.AccountVerification, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	if accountNumber == "" {
		return nil, store.ErrAccountNotFound
	}
	account, err := s.repo.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	return &domain.AccountVerification{
		AccountNumber: account.AccountNumber,
		AccountName:   account.AccountName,
		AccountType:   account.AccountType,
		Currency:      account.Currency,
	}, nil
}

// SetTransactionPIN sets the initial PIN on an account the caller owns.
// The PIN transitions from absent to present exactly once.
func (s *Service) SetTransactionPIN(ctx context.Context, ownerID string, accountNumber string, pin string) error {
	if err := ValidatePINFormat(pin); err != nil {
		return err
	}
	account, err := s.repo.FindAccountByOwnerAndNumber(ctx, ownerID, strings.TrimSpace(accountNumber))
	if err != nil {
		return err
	}
	return s.pins.SetInitial(ctx, account, pin)
}

// Transfer processes one funds transfer end to end. The gate order is fixed:
// each gate's rejection takes precedence over every later gate, and no gate
// failure mutates any state. On success the committed ledger record is
// returned.
func (s *Service) Transfer(ctx context.Context, ownerID string, req domain.TransferRequest) (*domain.Transfer, error) {
	// Gate 1: presence.
	if strings.TrimSpace(req.SenderAccountNumber) == "" ||
		strings.TrimSpace(req.ReceiverAccountNumber) == "" ||
		req.Amount == 0 ||
		req.TransactionPIN == "" {
		return nil, ErrMissingField
	}

	// Gate 2: sender must exist and be owned by the caller.
	sender, err := s.repo.FindAccountByOwnerAndNumber(ctx, ownerID, strings.TrimSpace(req.SenderAccountNumber))
	if err != nil {
		return nil, err
	}

	// Gate 3: PIN. The optional distributed limiter runs first so repeated
	// guesses are slowed down even across instances.
	if err := s.consumePINRateLimit(ctx, sender.AccountNumber); err != nil {
		return nil, err
	}
	if err := s.pins.Verify(ctx, sender, req.TransactionPIN); err != nil {
		return nil, err
	}

	// Gate 4: receiver by number; ownership unrestricted.
	receiver, err := s.repo.FindAccountByNumber(ctx, strings.TrimSpace(req.ReceiverAccountNumber))
	if err != nil {
		return nil, err
	}

	// Gate 5: self-transfer.
	if sender.ID == receiver.ID {
		return nil, ErrSelfTransfer
	}

	// Gate 6: currency.
	if sender.Currency != receiver.Currency {
		return nil, ErrCurrencyMismatch
	}

	// Record construction boundary: amount positivity and the configured
	// minimum are enforced here, before the sufficiency gate.
	record, err := domain.NewTransfer(domain.NewTransferParams{
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            req.Amount,
		MinAmount:         s.minTransferAmount,
		Currency:          sender.Currency,
	})
	if err != nil {
		return nil, err
	}

	// Gate 7: sufficiency, on the unlocked snapshot. Re-checked under locks
	// below; this early rejection just avoids opening a transaction for a
	// request that cannot succeed.
	if sender.Balance < record.Amount {
		return nil, store.ErrInsufficientFunds
	}

	// Gate 8: commit. Everything inside the scope either commits together
	// or rolls back together.
	committed, err := s.commitTransfer(ctx, record)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=engine msg=\"transfer committed\" reference=%s sender=%s receiver=%s amount=%d currency=%s",
		committed.Reference, committed.SenderAccountNumber, committed.ReceiverAccountNumber, committed.Amount, committed.Currency)

	s.publishTransferCompleted(ctx, committed)
	return committed, nil
}

// commitTransfer runs the atomic scope, retrying with a fresh reference when
// the transfers table reports a collision.
func (s *Service) commitTransfer(ctx context.Context, record *domain.Transfer) (*domain.Transfer, error) {
	var lastErr error
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		record.Reference = idgen.TransferReference()

		err := s.repo.WithAccountsLocked(ctx, record.SenderAccountID, record.ReceiverAccountID, func(scope store.TransferScope) error {
			sender, receiver := scope.Sender(), scope.Receiver()

			// Locked snapshots are authoritative: a concurrent transfer may
			// have drained the sender since the gate sequence read it.
			if sender.Currency != receiver.Currency {
				return ErrCurrencyMismatch
			}
			if sender.Balance < record.Amount {
				return store.ErrInsufficientFunds
			}

			if err := scope.MoveFunds(ctx, record.Amount); err != nil {
				return err
			}
			if err := scope.RecordTransfer(ctx, record); err != nil {
				return err
			}

			record.SenderAccountNumber = sender.AccountNumber
			record.ReceiverAccountNumber = receiver.AccountNumber
			return nil
		})
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, store.ErrReferenceTaken) {
			return nil, err
		}
		lastErr = err
		log.Printf("level=warn component=engine msg=\"transfer reference collision; regenerating\" reference=%s attempt=%d", record.Reference, attempt+1)
	}
	return nil, fmt.Errorf("failed to assign a unique transfer reference: %w", lastErr)
}

// GetTransferHistory returns the transfers where the owned account is sender
// or receiver, most recent first.
func (s *Service) GetTransferHistory(ctx context.Context, ownerID string, accountNumber string) ([]domain.Transfer, error) {
	account, err := s.repo.FindAccountByOwnerAndNumber(ctx, ownerID, strings.TrimSpace(accountNumber))
	if err != nil {
		return nil, err
	}
	return s.repo.FindTransfersByAccount(ctx, account.ID)
}

func (s *Service) consumePINRateLimit(ctx context.Context, accountNumber string) error {
	if s.pinRateLimiter == nil || s.pinRateLimitPerMin <= 0 {
		return nil
	}
	count, _, err := s.pinRateLimiter.ConsumeRateLimit(ctx, "pin_verify", accountNumber, s.pinRateLimitPerMin, time.Minute)
	if err != nil {
		// The limiter is a hardening layer, not a correctness dependency.
		log.Printf("level=warn component=engine msg=\"pin rate limiter unavailable; continuing\" err=%v", err)
		return nil
	}
	if count > s.pinRateLimitPerMin {
		return ErrPINRateLimited
	}
	return nil
}

func (s *Service) publishTransferCompleted(ctx context.Context, t *domain.Transfer) {
	if s.eventProducer == nil {
		return
	}
	event := domain.TransferCompletedEvent{
		Reference:             t.Reference,
		SenderAccountNumber:   t.SenderAccountNumber,
		ReceiverAccountNumber: t.ReceiverAccountNumber,
		Amount:                t.Amount,
		Currency:              t.Currency,
		Timestamp:             t.CreatedAt,
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, "transfer.completed", event); err != nil {
		log.Printf("level=warn component=engine msg=\"transfer event publish failed\" reference=%s err=%v", t.Reference, err)
	}
}
