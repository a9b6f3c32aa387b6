// Package totp derives the rotating checkpoint token shown on the projector and
// checks tokens typed by students. Both sides must use the same Params.
package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

// Params are the session-wide token settings.
type Params struct {
	Secret      string // base32
	StepSeconds int
	Digits      int
}

// Token is the code valid for the current step.
type Token struct {
	Code            string    `json:"token"`
	StepSeconds     int       `json:"stepSeconds"`
	SecondsToExpiry int       `json:"secondsToExpiry"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

func (p Params) opts() pqtotp.ValidateOpts {
	step := p.StepSeconds
	if step <= 0 {
		step = 30
	}
	digits := p.Digits
	if digits <= 0 {
		digits = 6
	}
	return pqtotp.ValidateOpts{
		Period:    uint(step),
		Skew:      1,
		Digits:    otp.Digits(digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Current returns the token for now and how long it stays on screen.
func Current(p Params, now time.Time) (Token, error) {
	opts := p.opts()
	code, err := pqtotp.GenerateCodeCustom(p.Secret, now, opts)
	if err != nil {
		return Token{}, fmt.Errorf("generate token: %w", err)
	}
	step := int64(opts.Period)
	remaining := step - now.Unix()%step
	return Token{
		Code:            code,
		StepSeconds:     int(step),
		SecondsToExpiry: int(remaining),
		ExpiresAt:       time.Unix(now.Unix()+remaining, 0).UTC(),
	}, nil
}

// Verify accepts tokens from the current step and one step either side.
func Verify(p Params, token string, now time.Time) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	ok, err := pqtotp.ValidateCustom(token, p.Secret, now, p.opts())
	if err != nil {
		return false
	}
	return ok
}

// NewSecret generates a fresh base32 secret for a session.
func NewSecret(sessionID string) (string, error) {
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      "classroom-quiz",
		AccountName: sessionID,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}
