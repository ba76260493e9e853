package otp

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "otp.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestGenerateAndVerifyRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	gen, err := e.Generate(GenerateParams{SessionID: "s1", SignerID: "sig-a", DeliveryChannel: "email"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(gen.Code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", gen.Code)
	}

	res, err := e.Verify(VerifyParams{SessionID: "s1", SignerID: "sig-a", Code: gen.Code})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid verification, got %+v", res)
	}
	if !e.IsVerified("s1", "sig-a") {
		t.Fatalf("expected IsVerified true after match")
	}
}

func TestVerifyWrongCodeDecrementsAttempts(t *testing.T) {
	e := newTestEngine(t)
	gen, err := e.Generate(GenerateParams{SessionID: "s2", SignerID: "sig-a"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	res, err := e.Verify(VerifyParams{SessionID: "s2", SignerID: "sig-a", Code: "000000"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Valid {
		t.Fatalf("expected invalid for wrong code")
	}
	if res.RemainingAttempts != DefaultAttempts-1 {
		t.Fatalf("expected remaining attempts %d, got %d", DefaultAttempts-1, res.RemainingAttempts)
	}

	if e.IsVerified("s2", "sig-a") {
		t.Fatalf("expected not verified")
	}
	_ = gen
}

func TestGenerateEnforcesRateLimit(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Generate(GenerateParams{SessionID: "s3", SignerID: "sig-a"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	_, err := e.Generate(GenerateParams{SessionID: "s3", SignerID: "sig-a"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for immediate retry, got %v", err)
	}
}

func TestGenerateAllowsRetryAfterInterval(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Generate(GenerateParams{SessionID: "s4", SignerID: "sig-a"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	err := e.store.Update(func(doc *otpDocument) error {
		doc.Records[0].CreatedAt = doc.Records[0].CreatedAt.Add(-MinGenerationInterval - time.Second)
		return nil
	})
	if err != nil {
		t.Fatalf("backdate update: %v", err)
	}

	res, err := e.Generate(GenerateParams{SessionID: "s4", SignerID: "sig-a"})
	if err != nil {
		t.Fatalf("expected second generation to succeed after interval, got %v", err)
	}
	if !res.IsRetry {
		t.Fatalf("expected IsRetry true when a prior unverified code existed")
	}
}
