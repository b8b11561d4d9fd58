// Package idempotency holds the Idempotency-Key conventions shared by the
// order and catalog services.
package idempotency

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/shopline/commerce/pkg/errors"
)

// Header is the request header carrying the key.
const Header = "Idempotency-Key"

// MaxKeyLength bounds keys so they fit the stock_adjustments index.
const MaxKeyLength = 200

// Direction says whether a step key belongs to a debit or its compensation.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// FromRequest returns the request's Idempotency-Key, or "" when absent.
// Keys must be printable ASCII without spaces and at most MaxKeyLength long.
func FromRequest(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(Header))
	if key == "" {
		return "", nil
	}
	if err := Validate(key); err != nil {
		return "", err
	}
	return key, nil
}

// Validate checks key against the accepted format.
func Validate(key string) error {
	if len(key) > MaxKeyLength {
		return apperrors.InvalidInput(fmt.Sprintf("%s must be at most %d characters", Header, MaxKeyLength))
	}
	for _, c := range key {
		if c <= ' ' || c > '~' {
			return apperrors.InvalidInput(Header + " must be printable ASCII without spaces")
		}
	}
	return nil
}

// StepKey derives the deterministic key for one placement step:
// "<placement_id>:<seq>:<direction>". Replaying a step with the same key is
// applied at most once by the stock ledger.
func StepKey(placementID string, seq int, dir Direction) string {
	return placementID + ":" + strconv.Itoa(seq) + ":" + string(dir)
}

// ParseStepKey splits a key built by StepKey.
func ParseStepKey(key string) (placementID string, seq int, dir Direction, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("step key %q: want 3 parts, got %d", key, len(parts))
	}
	seq, err = strconv.Atoi(parts[1])
	if err != nil || seq < 0 {
		return "", 0, "", fmt.Errorf("step key %q: bad sequence %q", key, parts[1])
	}
	switch d := Direction(parts[2]); d {
	case Debit, Credit:
		return parts[0], seq, d, nil
	default:
		return "", 0, "", fmt.Errorf("step key %q: unknown direction %q", key, parts[2])
	}
}
