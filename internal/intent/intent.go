// Package intent implements the forensic per-action log described in §4.4:
// an independent SHA-256 hash chain for every (session, signer) pair, plus
// the evidence-report rendering the signing gateway hands back to callers
// who need a human-readable audit trail.
package intent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/store"
)

// Action enumerates the forensic events this logger can record.
type Action string

const (
	ActionSessionViewed       Action = "session-viewed"
	ActionDocumentViewed      Action = "document-viewed"
	ActionSectionInitialed    Action = "section-initialed"
	ActionSignatureSubmitted  Action = "signature-submitted"
	ActionConsentGiven        Action = "consent-given"
	ActionConsentRevoked      Action = "consent-revoked"
	ActionOTPRequested        Action = "otp-requested"
	ActionOTPVerified         Action = "otp-verified"
	ActionOTPFailed           Action = "otp-failed"
	ActionRejectionSubmitted  Action = "rejection-submitted"
	ActionLinkAccessed        Action = "link-accessed"
	ActionPageScrolled        Action = "page-scrolled"
	ActionDownloadRequested   Action = "download-requested"
)

// DeviceEvidence captures the signer's client environment at action time.
type DeviceEvidence struct {
	UserAgent         string `json:"userAgent,omitempty"`
	Client            string `json:"client,omitempty"`
	OS                string `json:"os,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	Platform          string `json:"platform,omitempty"`
	Language          string `json:"language,omitempty"`
}

// ConsentEvidence is attached to consent-given / consent-revoked records.
type ConsentEvidence struct {
	Text      string    `json:"text,omitempty"`
	Method    string    `json:"method,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Record is a single forensic action log entry.
type Record struct {
	RecordID          string            `json:"recordId"`
	SessionID         string            `json:"sessionId"`
	DocumentID        string            `json:"documentId"`
	SignerID          string            `json:"signerId"`
	SignerEmail       string            `json:"signerEmail"`
	SignerName        string            `json:"signerName"`
	Action            Action            `json:"action"`
	Timestamp         time.Time         `json:"timestamp"`
	IPAddress         string            `json:"ipAddress,omitempty"`
	Device            DeviceEvidence    `json:"device"`
	Consent           *ConsentEvidence  `json:"consent,omitempty"`
	SectionID         string            `json:"sectionId,omitempty"`
	Context           map[string]any    `json:"context,omitempty"`
	ContextHash       string            `json:"contextHash,omitempty"`
	RecordHash        string            `json:"recordHash"`
	PreviousRecordHash string           `json:"previousRecordHash"`
	Sequence          uint64            `json:"sequence"`
}

// LogParams is the input to Log.
type LogParams struct {
	SessionID   string
	DocumentID  string
	SignerID    string
	SignerEmail string
	SignerName  string
	Action      Action
	IPAddress   string
	Device      DeviceEvidence
	Consent     *ConsentEvidence
	SectionID   string
	Context     map[string]any
}

type logDocument struct {
	Engine  string   `json:"engine"`
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

func freshLogDocument() logDocument {
	return logDocument{Engine: "doc-sovereign-engine-intent", Version: 1, Records: []Record{}}
}

// Logger is the per-(session, signer) hash-chained action log.
type Logger struct {
	store *store.Store[logDocument]
}

// Open loads (or creates) the intent log file at path.
func Open(path string) (*Logger, error) {
	s, err := store.Open(path, freshLogDocument)
	if err != nil {
		return nil, fmt.Errorf("intent: open: %w", err)
	}
	return &Logger{store: s}, nil
}

func chainKey(sessionID, signerID string) string { return sessionID + "::" + signerID }

// Log appends a new record to the (session, signer) subchain.
func (l *Logger) Log(p LogParams) (Record, error) {
	var out Record
	err := l.store.Update(func(doc *logDocument) error {
		key := chainKey(p.SessionID, p.SignerID)
		var seq uint64
		prev := canon.GenesisMarker
		for _, rec := range doc.Records {
			if chainKey(rec.SessionID, rec.SignerID) == key {
				seq = rec.Sequence
				prev = rec.RecordHash
			}
		}
		seq++

		rec := Record{
			RecordID:           uuid.NewString(),
			SessionID:          p.SessionID,
			DocumentID:         p.DocumentID,
			SignerID:           p.SignerID,
			SignerEmail:        p.SignerEmail,
			SignerName:         p.SignerName,
			Action:             p.Action,
			Timestamp:          time.Now().UTC(),
			IPAddress:          p.IPAddress,
			Device:             p.Device,
			Consent:            p.Consent,
			SectionID:          p.SectionID,
			Context:            p.Context,
			PreviousRecordHash: prev,
			Sequence:           seq,
		}
		if p.Context != nil {
			rec.ContextHash = canon.CanonicalMapHash(p.Context)
		}
		rec.RecordHash = computeRecordHash(rec)
		doc.Records = append(doc.Records, rec)
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func computeRecordHash(rec Record) string {
	return canon.JoinHash(
		rec.RecordID,
		rec.SessionID,
		rec.SignerID,
		string(rec.Action),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.IPAddress,
		rec.Device.DeviceFingerprint,
		rec.PreviousRecordHash,
		canon.Uint64(rec.Sequence),
	)
}

// ChainVerification is the per-(session, signer) result of verifyChain.
type ChainVerification struct {
	SignerID string   `json:"signerId"`
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues,omitempty"`
}

// VerifyChain groups a session's records by signer and walks each subchain.
func (l *Logger) VerifyChain(sessionID string) []ChainVerification {
	bySigner := l.recordsBySigner(sessionID)

	signerIDs := make([]string, 0, len(bySigner))
	for sid := range bySigner {
		signerIDs = append(signerIDs, sid)
	}
	sort.Strings(signerIDs)

	out := make([]ChainVerification, 0, len(signerIDs))
	for _, sid := range signerIDs {
		recs := bySigner[sid]
		v := ChainVerification{SignerID: sid, Valid: true}
		prev := canon.GenesisMarker
		for i, rec := range recs {
			wantSeq := uint64(i + 1)
			if rec.Sequence != wantSeq {
				v.Valid = false
				v.Issues = append(v.Issues, fmt.Sprintf("record %s: sequence %d, expected %d", rec.RecordID, rec.Sequence, wantSeq))
			}
			if rec.PreviousRecordHash != prev {
				v.Valid = false
				v.Issues = append(v.Issues, fmt.Sprintf("record %s: previousRecordHash does not match prior entry", rec.RecordID))
			}
			if computeRecordHash(rec) != rec.RecordHash {
				v.Valid = false
				v.Issues = append(v.Issues, fmt.Sprintf("record %s: recordHash does not match recomputation", rec.RecordID))
			}
			prev = rec.RecordHash
		}
		out = append(out, v)
	}
	return out
}

func (l *Logger) recordsBySigner(sessionID string) map[string][]Record {
	out := map[string][]Record{}
	l.store.View(func(doc *logDocument) {
		for _, rec := range doc.Records {
			if rec.SessionID != sessionID {
				continue
			}
			out[rec.SignerID] = append(out[rec.SignerID], rec)
		}
	})
	for sid := range out {
		sort.Slice(out[sid], func(i, j int) bool { return out[sid][i].Sequence < out[sid][j].Sequence })
	}
	return out
}

// GetSessionLog returns every record for sessionID in insertion order
// alongside a chain-validity boolean summarizing VerifyChain.
func (l *Logger) GetSessionLog(sessionID string) ([]Record, bool) {
	var recs []Record
	l.store.View(func(doc *logDocument) {
		for _, rec := range doc.Records {
			if rec.SessionID == sessionID {
				recs = append(recs, rec)
			}
		}
	})

	valid := true
	for _, v := range l.VerifyChain(sessionID) {
		if !v.Valid {
			valid = false
			break
		}
	}
	return recs, valid
}

// GenerateEvidenceReport renders a deterministic, human-readable log of a
// session with a chain-verification summary appended.
func (l *Logger) GenerateEvidenceReport(sessionID string) string {
	recs, valid := l.GetSessionLog(sessionID)

	var b strings.Builder
	fmt.Fprintf(&b, "Evidence Report — Session %s\n", sessionID)
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Chain Valid: %t\n", valid)
	fmt.Fprintf(&b, "Total Actions: %d\n\n", len(recs))

	for _, rec := range recs {
		fmt.Fprintf(&b, "[%s] seq=%d signer=%s (%s) action=%s",
			rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Sequence, rec.SignerName, rec.SignerEmail, rec.Action)
		if rec.SectionID != "" {
			fmt.Fprintf(&b, " section=%s", rec.SectionID)
		}
		if rec.IPAddress != "" {
			fmt.Fprintf(&b, " ip=%s", rec.IPAddress)
		}
		if rec.ContextHash != "" {
			fmt.Fprintf(&b, " contextHash=%s", rec.ContextHash)
		}
		fmt.Fprintf(&b, " recordHash=%s\n", rec.RecordHash)
	}

	for _, v := range l.VerifyChain(sessionID) {
		fmt.Fprintf(&b, "\nSigner %s chain valid: %t\n", v.SignerID, v.Valid)
		for _, issue := range v.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}

	return b.String()
}
