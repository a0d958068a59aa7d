package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

// VerificationTTL is how long an emailed code stays valid.
const VerificationTTL = 30 * time.Minute

// VerificationCode is a single-use 6-digit email verification code.
//
// Codes are unique across the table; generation retries on collision. A code
// is consumed exactly once, after which the account is marked verified.
type VerificationCode struct {
	Code      string
	AccountID id.PrincipalID
	Used      bool
	UsedAt    *time.Time
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewVerificationCode generates a fresh random code for the account.
func NewVerificationCode(accountID id.PrincipalID, now time.Time) (*VerificationCode, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "generate verification code", err)
	}
	return &VerificationCode{
		Code:      fmt.Sprintf("%06d", n.Int64()),
		AccountID: accountID,
		ExpiresAt: now.Add(VerificationTTL),
		CreatedAt: now,
	}, nil
}

// ValidateCodeFormat checks the shape of user-supplied input before hitting
// the store.
func ValidateCodeFormat(code string) error {
	if len(code) != 6 {
		return dErrors.NewField(dErrors.CodeValidation, "code", "verification code must be 6 digits")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return dErrors.NewField(dErrors.CodeValidation, "code", "verification code must be 6 digits")
		}
	}
	return nil
}

// Expired reports whether the code is past its expiry.
func (c *VerificationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Consume marks the code used. Single-use: consuming a used code is an
// invalid state the store also rejects.
func (c *VerificationCode) Consume(now time.Time) {
	c.Used = true
	c.UsedAt = &now
}
