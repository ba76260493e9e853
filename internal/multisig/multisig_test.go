package multisig

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "multisig.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestCreateWorkflowRejectsBadThreshold(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateWorkflow(CreateParams{
		DocumentID:         "doc-1",
		DocumentHash:       "hash-1",
		Initiator:          "alice",
		RequiredSignatures: 3,
		Counterparties:     []NewCounterparty{{Email: "a@x.com", Required: true}},
	})
	if !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
}

func TestAddSignatureAndFinalize(t *testing.T) {
	e := newTestEngine(t)
	wf, err := e.CreateWorkflow(CreateParams{
		DocumentID:         "doc-2",
		DocumentHash:       "hash-2",
		Initiator:          "alice",
		RequiredSignatures: 2,
		Counterparties: []NewCounterparty{
			{Email: "a@x.com", Name: "A", Required: true},
			{Email: "b@x.com", Name: "B", Required: true},
		},
		Ordering:   OrderingAny,
		RequireAll: true,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	now := time.Now().UTC()
	wf, err = e.AddSignature(wf.WorkflowID, AddSignatureParams{Email: "a@x.com", Name: "A", DocumentHash: "hash-2", SignedAt: now})
	if err != nil {
		t.Fatalf("AddSignature a: %v", err)
	}
	if wf.Status != StatusPartial {
		t.Fatalf("expected partial after first signature, got %s", wf.Status)
	}

	wf, err = e.AddSignature(wf.WorkflowID, AddSignatureParams{Email: "b@x.com", Name: "B", DocumentHash: "hash-2", SignedAt: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("AddSignature b: %v", err)
	}
	if wf.Status != StatusFinalized {
		t.Fatalf("expected finalized when requireAll and all signed, got %s", wf.Status)
	}

	cert, err := e.ExportCertificate(wf.WorkflowID)
	if err != nil {
		t.Fatalf("ExportCertificate: %v", err)
	}
	if len(cert.Signers) != 2 {
		t.Fatalf("expected 2 signers in certificate, got %d", len(cert.Signers))
	}
	if cert.Signers[0].SignedAt.After(cert.Signers[1].SignedAt) {
		t.Fatalf("expected certificate signers sorted by signedAt")
	}
	if cert.FinalizedAt.IsZero() {
		t.Fatalf("expected certificate to carry the workflow's finalizedAt")
	}

	again, err := e.ExportCertificate(wf.WorkflowID)
	if err != nil {
		t.Fatalf("ExportCertificate (repeat): %v", err)
	}
	if again.CertificateHash != cert.CertificateHash {
		t.Fatalf("expected certificateHash to be stable across exports, got %s then %s", cert.CertificateHash, again.CertificateHash)
	}
}

func TestAddSignatureRejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	wf, err := e.CreateWorkflow(CreateParams{
		DocumentID:         "doc-3",
		DocumentHash:       "hash-3",
		Initiator:          "alice",
		RequiredSignatures: 1,
		Counterparties:     []NewCounterparty{{Email: "a@x.com", Name: "A", Required: true}},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	now := time.Now().UTC()
	if _, err := e.AddSignature(wf.WorkflowID, AddSignatureParams{Email: "a@x.com", Name: "A", DocumentHash: "hash-3", SignedAt: now}); err != nil {
		t.Fatalf("AddSignature: %v", err)
	}
	if _, err := e.AddSignature(wf.WorkflowID, AddSignatureParams{Email: "a@x.com", Name: "A", DocumentHash: "hash-3", SignedAt: now.Add(time.Minute)}); !errors.Is(err, ErrDuplicateSigner) {
		t.Fatalf("expected ErrDuplicateSigner, got %v", err)
	}
}

func TestFinalizeRequiresThresholdMet(t *testing.T) {
	e := newTestEngine(t)
	wf, err := e.CreateWorkflow(CreateParams{
		DocumentID:         "doc-4",
		DocumentHash:       "hash-4",
		Initiator:          "alice",
		RequiredSignatures: 2,
		Counterparties: []NewCounterparty{
			{Email: "a@x.com", Required: true},
			{Email: "b@x.com", Required: true},
		},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if _, err := e.Finalize(wf.WorkflowID); !errors.Is(err, ErrNotThresholdMet) {
		t.Fatalf("expected ErrNotThresholdMet, got %v", err)
	}
}
