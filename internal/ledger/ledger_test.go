package ledger

import (
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "ledger.json"), NewXRPLAdapter(), NewStellarAdapter(), NewIPFSAdapter(""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func anchorDoc(t *testing.T, e *Engine, docID, sha256 string) Record {
	t.Helper()
	rec, err := e.Anchor(AnchorParams{
		DocumentID:  docID,
		Fingerprint: "fp-" + docID,
		Chain:       ChainXRPL,
		SHA256:      sha256,
		MerkleRoot:  "root-" + docID,
	})
	if err != nil {
		t.Fatalf("Anchor(%s): %v", docID, err)
	}
	return rec
}

func TestAnchorChainIntegrityDetectsTamperedMemo(t *testing.T) {
	e := newTestEngine(t)

	d1 := anchorDoc(t, e, "doc-1", "sha-d1")
	d2 := anchorDoc(t, e, "doc-2", "sha-d2")
	d3 := anchorDoc(t, e, "doc-3", "sha-d3")

	if d1.Sequence != 1 || d2.Sequence != 2 || d3.Sequence != 3 {
		t.Fatalf("expected sequential sequence numbers, got %d %d %d", d1.Sequence, d2.Sequence, d3.Sequence)
	}
	if d1.PreviousAnchorHash == "" {
		t.Fatalf("expected genesis marker for first anchor")
	}
	if d2.PreviousAnchorHash != d1.RecordHash {
		t.Fatalf("expected d2.previousAnchorHash to equal d1.recordHash")
	}

	report := e.VerifyFullChain()
	if !report.Valid {
		t.Fatalf("expected an intact chain to verify, got %+v", report)
	}
	if report.Count != 3 {
		t.Fatalf("expected 3 records, got %d", report.Count)
	}

	if err := e.store.Update(func(doc *ledgerDocument) error {
		doc.Records[1].Memo.SHA256 = "tampered-sha"
		return nil
	}); err != nil {
		t.Fatalf("tamper update: %v", err)
	}

	report = e.VerifyFullChain()
	if report.Valid {
		t.Fatalf("expected tampering to be detected")
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}
	if report.Results[0].Valid != true {
		t.Fatalf("expected sequence 1 to remain valid")
	}
	if report.Results[1].Valid {
		t.Fatalf("expected sequence 2 (tampered memo) to be invalid")
	}
	if report.Results[1].MemoHashValid {
		t.Fatalf("expected sequence 2 memoHash to be invalid")
	}
	if !report.Results[2].Valid {
		t.Fatalf("expected sequence 3 to remain valid: its previousAnchorHash still matches d2's untouched recordHash")
	}
}

func TestAnchorMultiChainRecordsRedundantAnchors(t *testing.T) {
	e := newTestEngine(t)

	rec, err := e.AnchorMultiChain(AnchorMultiChainParams{
		Primary: AnchorParams{
			DocumentID:  "doc-multi",
			Fingerprint: "fp-multi",
			Chain:       ChainXRPL,
			SHA256:      "sha-multi",
			MerkleRoot:  "root-multi",
		},
		Secondary: []Chain{ChainStellar, ChainIPFS},
	})
	if err != nil {
		t.Fatalf("AnchorMultiChain: %v", err)
	}
	if len(rec.RedundantAnchors) != 2 {
		t.Fatalf("expected 2 redundant anchors, got %d", len(rec.RedundantAnchors))
	}

	result, err := e.VerifyAnchor(rec.AnchorID)
	if err != nil {
		t.Fatalf("VerifyAnchor: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected primary anchor to verify, got %+v", result)
	}
}

func TestAnchorUnknownChainFails(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Anchor(AnchorParams{DocumentID: "doc-x", Chain: Chain("unknown-chain")})
	if err == nil {
		t.Fatalf("expected an error for an unregistered chain")
	}
}

func TestSealRoundTrip(t *testing.T) {
	s, err := newSealer()
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}
	memo := []byte("memo-bytes-for-sealing")
	sealed, err := s.Seal(memo)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ok, err := s.Verify(memo, sealed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected seal to verify against its own memo")
	}

	ok, err = s.Verify([]byte("different memo"), sealed)
	if err != nil {
		t.Fatalf("Verify (mismatched memo): %v", err)
	}
	if ok {
		t.Fatalf("expected seal to fail verification against a different memo")
	}
}
