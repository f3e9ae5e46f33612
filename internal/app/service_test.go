package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sparynx/ledger-service/internal/domain"
	"github.com/sparynx/ledger-service/internal/store"
)

type engineRepoStub struct {
	store.Repository

	sender      *domain.Account
	receiver    *domain.Account
	senderErr   error
	receiverErr error

	// Overrides the sender balance seen inside the locked scope, simulating a
	// concurrent transfer draining the account between the gate sequence and
	// the commit.
	lockedSenderBalance *int64

	scopeOpened        int
	moveFundsCalls     int
	recordTransferErrs []error
	recordedRefs       []string

	failedPINRecords int
	resetPINCalled   bool

	createdAccounts []*domain.Account
	createErrs      []error
}

func (s *engineRepoStub) FindAccountByOwnerAndNumber(ctx context.Context, ownerID string, accountNumber string) (*domain.Account, error) {
	if s.senderErr != nil {
		return nil, s.senderErr
	}
	return s.sender, nil
}

func (s *engineRepoStub) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	if s.receiverErr != nil {
		return nil, s.receiverErr
	}
	return s.receiver, nil
}

func (s *engineRepoStub) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	return false, nil
}

func (s *engineRepoStub) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s.createdAccounts = append(s.createdAccounts, account)
	return account, nil
}

func (s *engineRepoStub) RecordFailedPINAttempt(ctx context.Context, accountID uuid.UUID, maxAttempts int, lockoutSeconds int) (*domain.Account, error) {
	s.failedPINRecords++
	return &domain.Account{ID: accountID, FailedPINAttempts: s.failedPINRecords}, nil
}

func (s *engineRepoStub) ResetPINFailureState(ctx context.Context, accountID uuid.UUID) error {
	s.resetPINCalled = true
	return nil
}

func (s *engineRepoStub) WithAccountsLocked(ctx context.Context, senderID, receiverID uuid.UUID, fn func(scope store.TransferScope) error) error {
	s.scopeOpened++

	lockedSender := *s.sender
	lockedReceiver := *s.receiver
	if s.lockedSenderBalance != nil {
		lockedSender.Balance = *s.lockedSenderBalance
	}

	return fn(&scopeStub{repo: s, sender: &lockedSender, receiver: &lockedReceiver})
}

type scopeStub struct {
	repo     *engineRepoStub
	sender   *domain.Account
	receiver *domain.Account
}

func (s *scopeStub) Sender() *domain.Account   { return s.sender }
func (s *scopeStub) Receiver() *domain.Account { return s.receiver }

func (s *scopeStub) MoveFunds(ctx context.Context, amount int64) error {
	s.repo.moveFundsCalls++
	s.sender.Balance -= amount
	s.receiver.Balance += amount
	return nil
}

func (s *scopeStub) RecordTransfer(ctx context.Context, transfer *domain.Transfer) error {
	if len(s.repo.recordTransferErrs) > 0 {
		err := s.repo.recordTransferErrs[0]
		s.repo.recordTransferErrs = s.repo.recordTransferErrs[1:]
		if err != nil {
			return err
		}
	}
	s.repo.recordedRefs = append(s.repo.recordedRefs, transfer.Reference)
	return nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	events []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

type rateLimiterStub struct {
	count int
	err   error
}

func (r *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r.err != nil {
		return 0, 0, r.err
	}
	return r.count, 0, nil
}

func newTransferFixture(t *testing.T) (*engineRepoStub, *publisherStub, *Service) {
	t.Helper()

	repo := &engineRepoStub{
		sender: &domain.Account{
			ID:            uuid.New(),
			OwnerID:       "owner_sender",
			AccountNumber: "1000000001",
			AccountName:   "Ada Eze",
			Currency:      "NGN",
			Balance:       10_000,
			PINSet:        true,
			PINHash:       mustHashPIN(t, "1234"),
		},
		receiver: &domain.Account{
			ID:            uuid.New(),
			OwnerID:       "owner_receiver",
			AccountNumber: "1000000002",
			AccountName:   "Bola Ade",
			Currency:      "NGN",
			Balance:       500,
		},
	}
	producer := &publisherStub{}
	service := NewService(repo, NewPINAuthenticator(repo, 5, 600), producer, 100)
	return repo, producer, service
}

func validTransferRequest() domain.TransferRequest {
	return domain.TransferRequest{
		SenderAccountNumber:   "1000000001",
		ReceiverAccountNumber: "1000000002",
		Amount:                5_000,
		TransactionPIN:        "1234",
	}
}

func TestTransferSuccessCommitsAndPublishes(t *testing.T) {
	repo, producer, service := newTransferFixture(t)

	got, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.scopeOpened != 1 {
		t.Fatalf("expected one atomic scope, got %d", repo.scopeOpened)
	}
	if repo.moveFundsCalls != 1 {
		t.Fatalf("expected one balance mutation, got %d", repo.moveFundsCalls)
	}
	if len(repo.recordedRefs) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(repo.recordedRefs))
	}
	if !strings.HasPrefix(got.Reference, "TRX") {
		t.Fatalf("expected a TRX reference, got %q", got.Reference)
	}
	if got.Status != domain.TransferStatusCompleted {
		t.Fatalf("expected completed status, got %q", got.Status)
	}
	if got.SenderAccountNumber != "1000000001" || got.ReceiverAccountNumber != "1000000002" {
		t.Fatalf("expected account numbers on the record, got %q -> %q", got.SenderAccountNumber, got.ReceiverAccountNumber)
	}

	if len(producer.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(producer.events))
	}
	event := producer.events[0]
	if event.routingKey != "transfer.completed" {
		t.Fatalf("expected transfer.completed routing key, got %q", event.routingKey)
	}
	payload, ok := event.body.(domain.TransferCompletedEvent)
	if !ok {
		t.Fatalf("expected a TransferCompletedEvent payload, got %T", event.body)
	}
	if payload.Reference != got.Reference || payload.Amount != 5_000 {
		t.Fatalf("event payload does not match the committed record: %+v", payload)
	}
}

func TestTransferRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.TransferRequest)
	}{
		{name: "missing sender account", mutate: func(r *domain.TransferRequest) { r.SenderAccountNumber = " " }},
		{name: "missing receiver account", mutate: func(r *domain.TransferRequest) { r.ReceiverAccountNumber = "" }},
		{name: "missing amount", mutate: func(r *domain.TransferRequest) { r.Amount = 0 }},
		{name: "missing pin", mutate: func(r *domain.TransferRequest) { r.TransactionPIN = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, producer, service := newTransferFixture(t)
			req := validTransferRequest()
			tt.mutate(&req)

			_, err := service.Transfer(context.Background(), "owner_sender", req)
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("expected ErrMissingField, got %v", err)
			}
			if repo.scopeOpened != 0 {
				t.Fatal("expected no atomic scope for a rejected request")
			}
			if len(producer.events) != 0 {
				t.Fatal("expected no events for a rejected request")
			}
		})
	}
}

func TestTransferSenderLookupPrecedesPINCheck(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	repo.senderErr = store.ErrAccountNotFound

	// The pin is also wrong, but the sender lookup gate rejects first.
	req := validTransferRequest()
	req.TransactionPIN = "9999"

	_, err := service.Transfer(context.Background(), "owner_sender", req)
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if repo.failedPINRecords != 0 {
		t.Fatal("expected no pin attempt recording when the sender lookup fails")
	}
}

func TestTransferRejectsInvalidPINBeforeReceiverLookup(t *testing.T) {
	repo, producer, service := newTransferFixture(t)
	repo.receiverErr = store.ErrAccountNotFound

	// Receiver is missing too, but the pin gate runs first.
	req := validTransferRequest()
	req.TransactionPIN = "9999"

	_, err := service.Transfer(context.Background(), "owner_sender", req)
	if !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
	if repo.failedPINRecords != 1 {
		t.Fatalf("expected one recorded failed attempt, got %d", repo.failedPINRecords)
	}
	if repo.scopeOpened != 0 || len(producer.events) != 0 {
		t.Fatal("expected no commit or event after a pin rejection")
	}
}

func TestTransferRejectsWhenPINNotSet(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	repo.sender.PINSet = false
	repo.sender.PINHash = ""

	_, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if !errors.Is(err, store.ErrPINNotSet) {
		t.Fatalf("expected ErrPINNotSet, got %v", err)
	}
}

func TestTransferRejectsMissingReceiver(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	repo.receiverErr = store.ErrAccountNotFound

	_, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	repo.receiver = repo.sender

	req := validTransferRequest()
	req.ReceiverAccountNumber = req.SenderAccountNumber

	_, err := service.Transfer(context.Background(), "owner_sender", req)
	if !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
}

func TestTransferRejectsCurrencyMismatch(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	repo.receiver.Currency = "USD"

	_, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestTransferRejectsAmountBelowMinimum(t *testing.T) {
	_, _, service := newTransferFixture(t)

	req := validTransferRequest()
	req.Amount = 50

	_, err := service.Transfer(context.Background(), "owner_sender", req)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransferRejectsInsufficientFunds(t *testing.T) {
	repo, producer, service := newTransferFixture(t)
	repo.sender.Balance = 4_999

	_, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if repo.scopeOpened != 0 {
		t.Fatal("expected no atomic scope for an obviously insufficient balance")
	}
	if len(producer.events) != 0 {
		t.Fatal("expected no events for a rejected request")
	}
}

func TestTransferRechecksBalanceUnderLocks(t *testing.T) {
	repo, producer, service := newTransferFixture(t)

	// The unlocked snapshot looks sufficient, but by the time the rows are
	// locked a concurrent transfer has drained the sender.
	drained := int64(50)
	repo.lockedSenderBalance = &drained

	_, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds from the locked re-check, got %v", err)
	}
	if repo.moveFundsCalls != 0 {
		t.Fatal("expected no balance mutation after the locked re-check failed")
	}
	if len(repo.recordedRefs) != 0 {
		t.Fatal("expected no ledger row after the locked re-check failed")
	}
	if len(producer.events) != 0 {
		t.Fatal("expected no events after the locked re-check failed")
	}
}

func TestTransferRetriesOnReferenceCollision(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	repo.recordTransferErrs = []error{store.ErrReferenceTaken}

	got, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.scopeOpened != 2 {
		t.Fatalf("expected the scope to be retried once, got %d runs", repo.scopeOpened)
	}
	if len(repo.recordedRefs) != 1 {
		t.Fatalf("expected exactly one committed ledger row, got %d", len(repo.recordedRefs))
	}
	if got.Reference != repo.recordedRefs[0] {
		t.Fatalf("expected the returned record to carry the committed reference")
	}
}

func TestTransferGivesUpAfterRepeatedCollisions(t *testing.T) {
	repo, producer, service := newTransferFixture(t)
	repo.recordTransferErrs = []error{
		store.ErrReferenceTaken,
		store.ErrReferenceTaken,
		store.ErrReferenceTaken,
	}

	_, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if !errors.Is(err, store.ErrReferenceTaken) {
		t.Fatalf("expected a wrapped ErrReferenceTaken after exhausting retries, got %v", err)
	}
	if repo.scopeOpened != maxReferenceAttempts {
		t.Fatalf("expected %d scope attempts, got %d", maxReferenceAttempts, repo.scopeOpened)
	}
	if len(producer.events) != 0 {
		t.Fatal("expected no events after commit failed")
	}
}

func TestTransferRateLimiterBlocksBeforePINCheck(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	service.SetPINRateLimiter(&rateLimiterStub{count: 31}, 30)

	_, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest())
	if !errors.Is(err, ErrPINRateLimited) {
		t.Fatalf("expected ErrPINRateLimited, got %v", err)
	}
	if repo.failedPINRecords != 0 {
		t.Fatal("expected no pin verification while rate limited")
	}
}

func TestTransferRateLimiterFailureIsNonFatal(t *testing.T) {
	_, _, service := newTransferFixture(t)
	service.SetPINRateLimiter(&rateLimiterStub{err: errors.New("redis down")}, 30)

	if _, err := service.Transfer(context.Background(), "owner_sender", validTransferRequest()); err != nil {
		t.Fatalf("expected limiter failure to be non-fatal, got %v", err)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.CreateAccountRequest
		wantErr error
	}{
		{
			name:    "rejects blank name",
			req:     domain.CreateAccountRequest{AccountName: "  ", AccountType: "savings", Currency: "NGN"},
			wantErr: ErrInvalidAccountName,
		},
		{
			name:    "rejects unknown account type",
			req:     domain.CreateAccountRequest{AccountName: "Ada Eze", AccountType: "offshore", Currency: "NGN"},
			wantErr: ErrInvalidAccountType,
		},
		{
			name:    "rejects unsupported currency",
			req:     domain.CreateAccountRequest{AccountName: "Ada Eze", AccountType: "savings", Currency: "JPY"},
			wantErr: ErrUnsupportedCurrency,
		},
		{
			name:    "rejects negative opening balance",
			req:     domain.CreateAccountRequest{AccountName: "Ada Eze", AccountType: "savings", Currency: "NGN", InitialBalance: -1},
			wantErr: ErrNegativeBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _, service := newTransferFixture(t)

			_, err := service.CreateAccount(context.Background(), "owner_new", tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(repo.createdAccounts) != 0 {
				t.Fatal("expected no account row for a rejected request")
			}
		})
	}
}

func TestCreateAccountGeneratesTenDigitNumber(t *testing.T) {
	_, _, service := newTransferFixture(t)

	account, err := service.CreateAccount(context.Background(), "owner_new", domain.CreateAccountRequest{
		AccountName:    "Ada Eze",
		AccountType:    "Savings",
		Currency:       "ngn",
		InitialBalance: 2_000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(account.AccountNumber) != 10 {
		t.Fatalf("expected a 10-digit account number, got %q", account.AccountNumber)
	}
	if account.AccountType != "savings" || account.Currency != "NGN" {
		t.Fatalf("expected normalized type and currency, got %q/%q", account.AccountType, account.Currency)
	}
	if account.PINSet {
		t.Fatal("expected a new account without a pin")
	}
	if account.Balance != 2_000 {
		t.Fatalf("expected opening balance to be kept, got %d", account.Balance)
	}
}

func TestCreateAccountRegeneratesNumberOnInsertRace(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	repo.createErrs = []error{store.ErrAccountNumberTaken}

	account, err := service.CreateAccount(context.Background(), "owner_new", domain.CreateAccountRequest{
		AccountName: "Ada Eze",
		AccountType: "savings",
		Currency:    "NGN",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account == nil || account.AccountNumber == "" {
		t.Fatal("expected an account with a regenerated number")
	}
	if len(repo.createdAccounts) != 1 {
		t.Fatalf("expected exactly one persisted account, got %d", len(repo.createdAccounts))
	}
}

func TestSetTransactionPINRejectsFormatBeforeLookup(t *testing.T) {
	repo, _, service := newTransferFixture(t)
	repo.senderErr = store.ErrAccountNotFound

	// The account is missing too, but the format gate rejects first.
	err := service.SetTransactionPIN(context.Background(), "owner_sender", "1000000001", "12ab")
	if !errors.Is(err, ErrInvalidPINFormat) {
		t.Fatalf("expected ErrInvalidPINFormat, got %v", err)
	}
}
