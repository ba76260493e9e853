// Package otp implements the rate-limited, time-bound one-time-code engine
// described in §4.5: 6-digit codes, a default 10-minute TTL, a default
// 5-attempt budget, and a 30-second minimum interval between successive
// generations for the same (session, signer) pair.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/doc-sovereign/engine/internal/store"
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultAttempts        = 5
	MinGenerationInterval  = 30 * time.Second
)

var (
	ErrRateLimited = errors.New("otp: rate limited")
	ErrNotFound    = errors.New("otp: no active code for this signer")
)

// Record is a single OTP issuance.
type Record struct {
	OTPID            string     `json:"otpId"`
	SessionID        string     `json:"sessionId"`
	SignerID         string     `json:"signerId"`
	SignerEmail      string     `json:"signerEmail,omitempty"`
	Code             string     `json:"code"`
	DeliveryChannel  string     `json:"deliveryChannel,omitempty"`
	RequestIP        string     `json:"requestIp,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	RemainingAttempts int       `json:"remainingAttempts"`
	Verified         bool       `json:"verified"`
	VerifiedAt       *time.Time `json:"verifiedAt,omitempty"`
}

type otpDocument struct {
	Engine  string   `json:"engine"`
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

func freshOTPDocument() otpDocument {
	return otpDocument{Engine: "doc-sovereign-engine-otp", Version: 1, Records: []Record{}}
}

// Engine is the OTP issuance and verification store.
type Engine struct {
	store *store.Store[otpDocument]
}

// Open loads (or creates) the OTP store at path.
func Open(path string) (*Engine, error) {
	s, err := store.Open(path, freshOTPDocument)
	if err != nil {
		return nil, fmt.Errorf("otp: open: %w", err)
	}
	return &Engine{store: s}, nil
}

// GenerateParams is the input to Generate.
type GenerateParams struct {
	SessionID       string
	SignerID        string
	SignerEmail     string
	DeliveryChannel string
	RequestIP       string
}

// GenerateResult is the output of Generate.
type GenerateResult struct {
	OTPID     string
	Code      string
	ExpiresAt time.Time
	IsRetry   bool
}

func pairKey(sessionID, signerID string) string { return sessionID + "::" + signerID }

// Generate issues a new 6-digit code, invalidating any prior unverified code
// for the same (session, signer), subject to the 30-second minimum interval.
func (e *Engine) Generate(p GenerateParams) (GenerateResult, error) {
	var out GenerateResult
	err := e.store.Update(func(doc *otpDocument) error {
		key := pairKey(p.SessionID, p.SignerID)
		now := time.Now().UTC()
		isRetry := false

		for i := len(doc.Records) - 1; i >= 0; i-- {
			rec := &doc.Records[i]
			if pairKey(rec.SessionID, rec.SignerID) != key {
				continue
			}
			if now.Sub(rec.CreatedAt) < MinGenerationInterval {
				return ErrRateLimited
			}
			if !rec.Verified && now.Before(rec.ExpiresAt) {
				isRetry = true
			}
			break
		}

		code, err := randomDigitCode(6)
		if err != nil {
			return fmt.Errorf("otp: generate code: %w", err)
		}

		rec := Record{
			OTPID:             uuid.NewString(),
			SessionID:         p.SessionID,
			SignerID:          p.SignerID,
			SignerEmail:       p.SignerEmail,
			Code:              code,
			DeliveryChannel:   p.DeliveryChannel,
			RequestIP:         p.RequestIP,
			CreatedAt:         now,
			ExpiresAt:         now.Add(DefaultTTL),
			RemainingAttempts: DefaultAttempts,
		}
		doc.Records = append(doc.Records, rec)

		out = GenerateResult{OTPID: rec.OTPID, Code: rec.Code, ExpiresAt: rec.ExpiresAt, IsRetry: isRetry}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	return out, nil
}

// VerifyParams is the input to Verify.
type VerifyParams struct {
	SessionID string
	SignerID  string
	Code      string
}

// VerifyResult is the output of Verify.
type VerifyResult struct {
	Valid             bool
	OTPID             string
	Message           string
	RemainingAttempts int
}

// Verify compares a submitted code against the most recent unverified code
// for the pair using a constant-time comparison.
func (e *Engine) Verify(p VerifyParams) (VerifyResult, error) {
	var out VerifyResult
	err := e.store.Update(func(doc *otpDocument) error {
		key := pairKey(p.SessionID, p.SignerID)
		idx := -1
		for i := len(doc.Records) - 1; i >= 0; i-- {
			if pairKey(doc.Records[i].SessionID, doc.Records[i].SignerID) == key && !doc.Records[i].Verified {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = VerifyResult{Valid: false, Message: "no active code"}
			return nil
		}

		rec := &doc.Records[idx]
		now := time.Now().UTC()
		if now.After(rec.ExpiresAt) {
			out = VerifyResult{Valid: false, OTPID: rec.OTPID, Message: "code expired", RemainingAttempts: rec.RemainingAttempts}
			return nil
		}
		if rec.RemainingAttempts <= 0 {
			out = VerifyResult{Valid: false, OTPID: rec.OTPID, Message: "no attempts remaining", RemainingAttempts: 0}
			return nil
		}

		if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(p.Code)) != 1 {
			rec.RemainingAttempts--
			out = VerifyResult{Valid: false, OTPID: rec.OTPID, Message: "incorrect code", RemainingAttempts: rec.RemainingAttempts}
			return nil
		}

		rec.Verified = true
		rec.VerifiedAt = &now
		out = VerifyResult{Valid: true, OTPID: rec.OTPID, Message: "verified", RemainingAttempts: rec.RemainingAttempts}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return out, nil
}

// IsVerified reports whether a matching verified, unexpired record exists
// for the pair.
func (e *Engine) IsVerified(sessionID, signerID string) bool {
	key := pairKey(sessionID, signerID)
	verified := false
	e.store.View(func(doc *otpDocument) {
		now := time.Now().UTC()
		for _, rec := range doc.Records {
			if pairKey(rec.SessionID, rec.SignerID) == key && rec.Verified && now.Before(rec.ExpiresAt) {
				verified = true
			}
		}
	})
	return verified
}

func randomDigitCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
