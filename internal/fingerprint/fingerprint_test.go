package fingerprint

import (
	"path/filepath"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "fingerprints.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

const sampleText = "This agreement is entered into by and between the parties for the purpose of establishing terms."

func TestFingerprintMarksTextAndRecordsHash(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Fingerprint(FingerprintParams{
		DocumentID: "doc-1",
		Text:       sampleText,
		Recipient:  Recipient{Email: "x@example.com", Name: "X"},
	})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if res.FingerprintedText == sampleText {
		t.Fatalf("expected fingerprinted text to differ from input")
	}
	if res.Record.FingerprintHash == "" {
		t.Fatalf("expected a fingerprintHash")
	}
}

func TestIdentifySourceUnmodifiedMatchesExactly(t *testing.T) {
	e := newTestEngine(t)

	xRes, err := e.Fingerprint(FingerprintParams{DocumentID: "doc-2", Text: sampleText, Recipient: Recipient{Email: "x@example.com"}})
	if err != nil {
		t.Fatalf("Fingerprint x: %v", err)
	}
	if _, err := e.Fingerprint(FingerprintParams{DocumentID: "doc-2", Text: sampleText, Recipient: Recipient{Email: "y@example.com"}}); err != nil {
		t.Fatalf("Fingerprint y: %v", err)
	}

	result := e.IdentifySource(IdentifyParams{DocumentID: "doc-2", LeakedText: xRes.FingerprintedText})
	if !result.Matched {
		t.Fatalf("expected a match for unmodified fingerprinted text")
	}
	if result.Recipient != "x@example.com" {
		t.Fatalf("expected recipient x@example.com, got %s", result.Recipient)
	}
	if result.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0 for unmodified text, got %f", result.Confidence)
	}
}

func TestIdentifySourceDegradesAfterStrippingZeroWidth(t *testing.T) {
	e := newTestEngine(t)
	xRes, err := e.Fingerprint(FingerprintParams{DocumentID: "doc-3", Text: sampleText, Recipient: Recipient{Email: "x@example.com"}})
	if err != nil {
		t.Fatalf("Fingerprint x: %v", err)
	}
	if _, err := e.Fingerprint(FingerprintParams{DocumentID: "doc-3", Text: sampleText, Recipient: Recipient{Email: "y@example.com"}}); err != nil {
		t.Fatalf("Fingerprint y: %v", err)
	}

	stripped := stripZeroWidth(xRes.FingerprintedText)
	result := e.IdentifySource(IdentifyParams{DocumentID: "doc-3", LeakedText: stripped})
	if result.Matched && result.Confidence >= 1.0 {
		t.Fatalf("expected confidence to drop below 1.0 once zero-width markers are stripped")
	}
}

func stripZeroWidth(s string) string {
	var b strings.Builder
	for _, r := range s {
		isZW := false
		for _, cp := range zeroWidthCodepoints {
			if r == cp {
				isZW = true
				break
			}
		}
		if !isZW {
			b.WriteRune(r)
		}
	}
	return b.String()
}
