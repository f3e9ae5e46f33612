/**
 * @description
 * This file implements the transaction PIN authenticator. PIN logic lives in
 * one component operating on plain account data rather than being attached to
 * the account entity, so every code path that touches a PIN applies the same
 * rules: format validation before any storage access, bcrypt for the one-way
 * salted hash, fail-closed verification, and a bounded-attempt lockout to
 * slow down brute-forcing.
 *
 * @dependencies
 * - internal/domain, internal/store: Account data and persistence.
 * - golang.org/x/crypto/bcrypt: One-way salted PIN hashing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sparynx/ledger-service/internal/domain"
	"github.com/sparynx/ledger-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const pinLength = 4

// bcrypt cost matches what the account-provisioning side uses.
const pinHashCost = 10

var (
	ErrInvalidPINFormat = errors.New("pin must be exactly 4 numeric digits")
	ErrInvalidPIN       = errors.New("invalid transaction pin")
	ErrPINLocked        = errors.New("transaction pin locked after too many failed attempts")
)

// PINAuthenticator verifies and sets transaction PINs for accounts.
type PINAuthenticator struct {
	repo           store.Repository
	maxAttempts    int
	lockoutSeconds int
}

// NewPINAuthenticator creates a PIN authenticator backed by the given repository.
func NewPINAuthenticator(repo store.Repository, maxAttempts, lockoutSeconds int) *PINAuthenticator {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if lockoutSeconds <= 0 {
		lockoutSeconds = 600
	}
	return &PINAuthenticator{
		repo:           repo,
		maxAttempts:    maxAttempts,
		lockoutSeconds: lockoutSeconds,
	}
}

// ValidatePINFormat rejects anything that is not exactly four numeric digits.
// It runs before hashing or verification so malformed input never reaches
// storage.
func ValidatePINFormat(pin string) error {
	if len(pin) != pinLength {
		return ErrInvalidPINFormat
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return ErrInvalidPINFormat
		}
	}
	return nil
}

// SetInitial hashes the PIN and persists hash and flag atomically. It fails
// with store.ErrPINAlreadySet when the account already has a PIN; there is no
// overwrite path without a separate reset capability.
func (a *PINAuthenticator) SetInitial(ctx context.Context, account *domain.Account, pin string) error {
	if err := ValidatePINFormat(pin); err != nil {
		return err
	}
	if account.PINSet {
		return store.ErrPINAlreadySet
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), pinHashCost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}
	return a.repo.SetAccountPIN(ctx, account.ID, string(hash))
}

// Verify checks a submitted PIN against the account's stored hash. It fails
// closed: a missing PIN, an active lockout window, or a mismatch all reject
// the request without mutating anything beyond the attempt counters.
func (a *PINAuthenticator) Verify(ctx context.Context, account *domain.Account, pin string) error {
	if err := ValidatePINFormat(pin); err != nil {
		return err
	}
	if !account.PINSet || account.PINHash == "" {
		return store.ErrPINNotSet
	}
	if account.PINLockedUntil != nil && account.PINLockedUntil.After(time.Now()) {
		return ErrPINLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PINHash), []byte(pin)); err != nil {
		updated, recErr := a.repo.RecordFailedPINAttempt(ctx, account.ID, a.maxAttempts, a.lockoutSeconds)
		if recErr != nil {
			return fmt.Errorf("failed to record pin attempt: %w", recErr)
		}
		if updated.PINLockedUntil != nil && updated.PINLockedUntil.After(time.Now()) {
			return ErrPINLocked
		}
		return ErrInvalidPIN
	}

	if account.FailedPINAttempts > 0 || account.PINLockedUntil != nil {
		if err := a.repo.ResetPINFailureState(ctx, account.ID); err != nil {
			return fmt.Errorf("failed to reset pin failure state: %w", err)
		}
	}
	return nil
}
