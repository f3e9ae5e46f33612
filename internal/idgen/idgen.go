/**
 * @description
 * This package generates the service's business identifiers: 10-digit account
 * numbers and prefixed transfer references. Account numbers are drawn from a
 * fixed-width random space and collision-checked against the store before
 * assignment, with a bounded retry budget. Transfer references are a prefixed
 * timestamp plus a random suffix; they are not pre-checked, the transfers
 * table unique constraint is the final authority.
 *
 * @dependencies
 * - math/rand/v2: Random number generation (auto-seeded).
 */

package idgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

const (
	// Account numbers occupy [1000000000, 9999999999].
	accountNumberMin  = 1_000_000_000
	accountNumberSpan = 9_000_000_000

	maxAccountNumberAttempts = 10

	referencePrefix       = "TRX"
	referenceSuffixLength = 5
)

const base36Upper = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ErrSpaceExhausted is returned when a unique account number could not be
// found within the attempt budget. It aborts the request rather than
// retrying indefinitely.
var ErrSpaceExhausted = errors.New("idgen: unable to generate unique account number after maximum attempts")

// ExistsFunc reports whether a candidate identifier is already assigned.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// AccountNumber returns a 10-digit account number that exists reports as
// unassigned at generation time.
func AccountNumber(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAccountNumberAttempts; attempt++ {
		candidate := fmt.Sprintf("%d", accountNumberMin+rand.Int63n(accountNumberSpan))

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("idgen: account number uniqueness check failed: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrSpaceExhausted
}

// TransferReference returns a reference like "TRX1714752000123AB3F9". The
// millisecond timestamp makes collisions impractical; callers must still
// treat a unique-constraint violation at commit time as a signal to
// regenerate.
func TransferReference() string {
	var suffix strings.Builder
	for i := 0; i < referenceSuffixLength; i++ {
		suffix.WriteByte(base36Upper[rand.Intn(len(base36Upper))])
	}
	return fmt.Sprintf("%s%d%s", referencePrefix, time.Now().UnixMilli(), suffix.String())
}
