/**
 * @description
 * This file defines the account domain model for the ledger-service.
 * An account is a balance-holding entity identified by a generated,
 * globally unique account number and owned by an external identity.
 *
 * @notes
 * - Balances are stored as `int64` in the smallest currency unit, which
 *   avoids floating-point inaccuracies with financial data.
 * - The PIN hash is never serialized in API responses; only the `pin_set`
 *   flag is exposed.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Supported currency codes. Transfers require both accounts to share one.
const (
	CurrencyNGN = "NGN"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
	CurrencyUSD = "USD"
)

// Supported account types.
const (
	AccountTypeSavings  = "savings"
	AccountTypeChecking = "checking"
	AccountTypeBusiness = "business"
	AccountTypeCurrent  = "current"
)

// Account represents a balance-holding ledger account. This struct maps
// directly to the `accounts` table in the database.
type Account struct {
	ID                uuid.UUID  `json:"id"`
	OwnerID           string     `json:"owner_id"`
	AccountNumber     string     `json:"account_number"`
	AccountName       string     `json:"account_name"`
	AccountType       string     `json:"account_type"`
	Currency          string     `json:"currency"`
	Balance           int64      `json:"balance"` // smallest currency unit
	PINSet            bool       `json:"pin_set"`
	PINHash           string     `json:"-"`
	FailedPINAttempts int        `json:"-"`
	PINLockedUntil    *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CreateAccountRequest is the DTO for incoming account creation API requests.
type CreateAccountRequest struct {
	AccountName    string `json:"account_name"`
	AccountType    string `json:"account_type"`
	Currency       string `json:"currency"`
	InitialBalance int64  `json:"initial_balance"` // smallest currency unit
}

// AccountVerification is the reduced public view returned when a sender
// verifies a receiver account number before transferring.
type AccountVerification struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	AccountType   string `json:"account_type"`
	Currency      string `json:"currency"`
}

// SetPINRequest is the DTO for setting an account's transaction PIN.
type SetPINRequest struct {
	AccountNumber string `json:"account_number"`
	PIN           string `json:"pin"`
}

// IsSupportedCurrency reports whether code is one of the fixed currency set.
func IsSupportedCurrency(code string) bool {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case CurrencyNGN, CurrencyEUR, CurrencyGBP, CurrencyUSD:
		return true
	}
	return false
}

// IsSupportedAccountType reports whether t is one of the fixed account types.
func IsSupportedAccountType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case AccountTypeSavings, AccountTypeChecking, AccountTypeBusiness, AccountTypeCurrent:
		return true
	}
	return false
}
