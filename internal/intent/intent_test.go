package intent

import (
	"path/filepath"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "intent-log.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestLogChainsPerSessionSigner(t *testing.T) {
	l := newTestLogger(t)

	if _, err := l.Log(LogParams{SessionID: "s1", SignerID: "sig-a", SignerEmail: "a@x.com", Action: ActionDocumentViewed}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if _, err := l.Log(LogParams{SessionID: "s1", SignerID: "sig-a", SignerEmail: "a@x.com", Action: ActionSignatureSubmitted}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if _, err := l.Log(LogParams{SessionID: "s1", SignerID: "sig-b", SignerEmail: "b@x.com", Action: ActionDocumentViewed}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	for _, v := range l.VerifyChain("s1") {
		if !v.Valid {
			t.Fatalf("expected signer %s chain valid, issues: %v", v.SignerID, v.Issues)
		}
	}

	recs, valid := l.GetSessionLog("s1")
	if !valid {
		t.Fatalf("expected session log valid")
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	l := newTestLogger(t)
	if _, err := l.Log(LogParams{SessionID: "s2", SignerID: "sig-a", Action: ActionDocumentViewed}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if _, err := l.Log(LogParams{SessionID: "s2", SignerID: "sig-a", Action: ActionSignatureSubmitted}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	err := l.store.Update(func(doc *logDocument) error {
		doc.Records[0].IPAddress = "10.0.0.1"
		return nil
	})
	if err != nil {
		t.Fatalf("tamper update: %v", err)
	}

	for _, v := range l.VerifyChain("s2") {
		if v.Valid {
			t.Fatalf("expected tampered chain to be invalid")
		}
	}
}

func TestGenerateEvidenceReportIncludesActions(t *testing.T) {
	l := newTestLogger(t)
	if _, err := l.Log(LogParams{SessionID: "s3", SignerID: "sig-a", SignerName: "Alice", SignerEmail: "a@x.com", Action: ActionDocumentViewed}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if _, err := l.Log(LogParams{SessionID: "s3", SignerID: "sig-a", SignerName: "Alice", SignerEmail: "a@x.com", Action: ActionSignatureSubmitted}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	report := l.GenerateEvidenceReport("s3")
	if report == "" {
		t.Fatalf("expected non-empty report")
	}
	if !contains(report, "document-viewed") || !contains(report, "signature-submitted") {
		t.Fatalf("expected report to mention both actions, got:\n%s", report)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
