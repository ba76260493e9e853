package accesstoken

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	s := NewStore(10)
	tok, err := s.Issue("alice@example.com", PurposeSign)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(tok.Value) != 64 {
		t.Fatalf("expected 256-bit hex token (64 chars), got %d", len(tok.Value))
	}

	if _, err := s.Validate(tok.Value, PurposeSign); err != nil {
		t.Fatalf("Validate sign: %v", err)
	}
	if _, err := s.Validate(tok.Value, PurposeVerify); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("expected ErrWrongPurpose, got %v", err)
	}
}

func TestAdminSatisfiesAnyPurpose(t *testing.T) {
	s := NewStore(10)
	tok, _ := s.Issue("root@example.com", PurposeAdmin)
	if _, err := s.Validate(tok.Value, PurposeSign); err != nil {
		t.Fatalf("admin token should satisfy sign purpose: %v", err)
	}
	if _, err := s.Validate(tok.Value, PurposeVerify); err != nil {
		t.Fatalf("admin token should satisfy verify purpose: %v", err)
	}
}

func TestStoreCap(t *testing.T) {
	s := NewStore(2)
	if _, err := s.Issue("a@example.com", PurposeSign); err != nil {
		t.Fatalf("Issue 1: %v", err)
	}
	if _, err := s.Issue("b@example.com", PurposeSign); err != nil {
		t.Fatalf("Issue 2: %v", err)
	}
	if _, err := s.Issue("c@example.com", PurposeSign); !errors.Is(err, ErrStoreFull) {
		t.Fatalf("expected ErrStoreFull, got %v", err)
	}
}

func TestExpiredTokenPruned(t *testing.T) {
	s := NewStore(10)
	tok, _ := s.Issue("alice@example.com", PurposeVerify)
	s.byToken[tok.Value] = Token{
		Value: tok.Value, Email: tok.Email, Purpose: tok.Purpose,
		IssuedAt: tok.IssuedAt, ExpiresAt: time.Now().UTC().Add(-time.Second),
	}
	if _, err := s.Validate(tok.Value, PurposeVerify); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expired token should have been pruned")
	}
}

func TestUnknownToken(t *testing.T) {
	s := NewStore(10)
	if _, err := s.Validate("deadbeef", PurposeSign); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
