package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/doc-sovereign/engine/internal/signature"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "sessions.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestSingleSignerSuccess(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession(CreateParams{
		DocumentID:   "doc-1",
		DocumentHash: "hash-1",
		Creator:      "alice",
		Signers: []NewSigner{
			{Name: "Bob", Email: "bob@example.com", Required: true, Type: signature.TypeApprover},
		},
		Threshold: 1,
		Ordering:  OrderingAny,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	signerID := sess.Signers[0].SignerID
	updated, err := e.RecordSignature(sess.SessionID, signerID, "sig-hash-1")
	if err != nil {
		t.Fatalf("RecordSignature: %v", err)
	}
	if updated.Status != StatusThresholdMet || !updated.ThresholdMet {
		t.Fatalf("expected threshold-met, got status=%s thresholdMet=%v", updated.Status, updated.ThresholdMet)
	}

	if _, err := e.RecordSignature(sess.SessionID, signerID, "sig-hash-2"); !errors.Is(err, ErrSignerTerminal) {
		t.Fatalf("expected ErrSignerTerminal on re-sign, got %v", err)
	}
}

func TestStrictOrderingViolation(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession(CreateParams{
		DocumentID:   "doc-2",
		DocumentHash: "hash-2",
		Creator:      "alice",
		Signers: []NewSigner{
			{Name: "A", Email: "a@example.com", Required: true},
			{Name: "B", Email: "b@example.com", Required: true},
		},
		Threshold: 2,
		Ordering:  OrderingStrict,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	aID, bID := sess.Signers[0].SignerID, sess.Signers[1].SignerID

	if _, err := e.RecordSignature(sess.SessionID, bID, "sig-b"); !errors.Is(err, ErrStrictOrdering) {
		t.Fatalf("expected ErrStrictOrdering, got %v", err)
	}

	b, err := e.GetSession(sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if b.Signers[1].Status != SignerPending {
		t.Fatalf("expected B to remain pending, got %s", b.Signers[1].Status)
	}

	if _, err := e.RecordSignature(sess.SessionID, aID, "sig-a"); err != nil {
		t.Fatalf("RecordSignature A: %v", err)
	}
	final, err := e.RecordSignature(sess.SessionID, bID, "sig-b")
	if err != nil {
		t.Fatalf("RecordSignature B: %v", err)
	}
	if final.Status != StatusThresholdMet {
		t.Fatalf("expected threshold-met after both signed, got %s", final.Status)
	}
}

func TestRecordInitialRejectsUnknownSection(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession(CreateParams{
		DocumentID:   "doc-3",
		DocumentHash: "hash-3",
		Creator:      "alice",
		Signers: []NewSigner{
			{Name: "A", Email: "a@example.com", Required: true, RequiredInitials: []string{"p1"}},
		},
		Threshold: 1,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	signerID := sess.Signers[0].SignerID

	if _, err := e.RecordInitial(sess.SessionID, signerID, "p2"); !errors.Is(err, ErrSectionNotRequired) {
		t.Fatalf("expected ErrSectionNotRequired, got %v", err)
	}
	if _, err := e.RecordSignature(sess.SessionID, signerID, "h"); !errors.Is(err, ErrInitialsIncomplete) {
		t.Fatalf("expected ErrInitialsIncomplete before initialing, got %v", err)
	}
	if _, err := e.RecordInitial(sess.SessionID, signerID, "p1"); err != nil {
		t.Fatalf("RecordInitial: %v", err)
	}
	if _, err := e.RecordSignature(sess.SessionID, signerID, "h"); err != nil {
		t.Fatalf("RecordSignature after initials complete: %v", err)
	}
}

func TestExpireStaleMarksPastDeadlineSessions(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession(CreateParams{
		DocumentID:   "doc-4",
		DocumentHash: "hash-4",
		Creator:      "alice",
		Signers:      []NewSigner{{Name: "A", Email: "a@example.com", Required: true}},
		Threshold:    1,
		ExpiresAt:    time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	count, err := e.ExpireStale()
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 session expired, got %d", count)
	}

	got, err := e.GetSession(sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("expected session expired, got %s", got.Status)
	}
	if got.Signers[0].Status != SignerExpired {
		t.Fatalf("expected signer expired, got %s", got.Signers[0].Status)
	}
}
