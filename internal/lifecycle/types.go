// Package lifecycle implements the authoritative per-document state machine:
// createLifecycle, advanceStage, and the five-way deep integrity check
// described in §4.1. A lifecycle record changes only through CreateLifecycle
// and AdvanceStage; no other package in this engine calls AdvanceStage, so
// completing a signing session or anchoring a document does not by itself
// move a lifecycle forward.
package lifecycle

import (
	"time"
)

// Stage is one step in a document's life. The order below is the fixed
// table advanceStage consults on every transition — stage indices must never
// regress.
type Stage string

const (
	StageIngested           Stage = "ingested"
	StageParsed             Stage = "parsed"
	StageCanonicalized      Stage = "canonicalized"
	StageComplianceInjected Stage = "compliance-injected"
	StageSigned             Stage = "signed"
	StageEncrypted          Stage = "encrypted"
	StageAnchored           Stage = "anchored"
	StageRegistered         Stage = "registered"
	StageArchived           Stage = "archived"
	StageSuperseded         Stage = "superseded"
)

// stageOrder is the fixed index table. Archived and superseded are terminal
// and reachable from any stage, so they are not part of the monotonic
// sequence proper — advanceStage special-cases them (see registry.go).
var stageOrder = map[Stage]int{
	StageIngested:           0,
	StageParsed:             1,
	StageCanonicalized:      2,
	StageComplianceInjected: 3,
	StageSigned:             4,
	StageEncrypted:          5,
	StageAnchored:           6,
	StageRegistered:         7,
}

// StageIndex returns the fixed ordering index for a non-terminal stage, and
// false for an unrecognized or terminal stage.
func StageIndex(s Stage) (int, bool) {
	i, ok := stageOrder[s]
	return i, ok
}

// Transition is one recorded step in a document's history.
type Transition struct {
	Stage       Stage     `json:"stage"`
	ContentHash string    `json:"contentHash"`
	CID         string    `json:"cid,omitempty"`
	LedgerTx    string    `json:"ledgerTx,omitempty"`
	Chain       string    `json:"chain,omitempty"`
	BlockHeight uint64    `json:"blockHeight,omitempty"`
	Actor       string    `json:"actor"`
	Evidence    string    `json:"evidence,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Record is the full identity of a document across its life.
type Record struct {
	DocumentID  string `json:"documentId"`
	SKU         string `json:"sku"`
	Title       string `json:"title"`
	SourceFile  string `json:"sourceFile"`

	CurrentStage Stage  `json:"currentStage"`
	Version      int    `json:"version"`

	DraftHash      string `json:"draftHash"`
	ComplianceHash string `json:"complianceHash,omitempty"`
	SignedHash     string `json:"signedHash,omitempty"`
	CanonicalHash  string `json:"canonicalHash,omitempty"`
	MerkleRoot     string `json:"merkleRoot,omitempty"`

	PlainCID     string `json:"plainCid,omitempty"`
	EncryptedCID string `json:"encryptedCid,omitempty"`

	LedgerTx    string `json:"ledgerTx,omitempty"`
	Chain       string `json:"chain,omitempty"`
	BlockHeight uint64 `json:"blockHeight,omitempty"`

	PredecessorDocumentID string `json:"predecessorDocumentId,omitempty"`
	PredecessorHash       string `json:"predecessorHash,omitempty"`

	CertificateHash string `json:"certificateHash,omitempty"`

	Transitions []Transition `json:"transitions"`

	CreatedAt      time.Time `json:"createdAt"`
	LastTransition time.Time `json:"lastTransition"`

	SelfHash string `json:"selfHash"`
}

// AdvanceParams is the payload for advanceStage.
type AdvanceParams struct {
	ContentHash string
	CID         string
	LedgerTx    string
	Chain       string
	BlockHeight uint64
	Actor       string
	Evidence    string
}

// IntegrityReport is the result of verifyIntegrity's five checks.
type IntegrityReport struct {
	RecordHashValid       bool     `json:"recordHashValid"`
	StageChainValid       bool     `json:"stageChainValid"`
	HashContinuityValid   bool     `json:"hashContinuityValid"`
	CIDConsistencyValid   bool     `json:"cidConsistencyValid"`
	SignatureBindingValid bool     `json:"signatureBindingValid"`
	Issues                []string `json:"issues"`
}

// Valid reports whether every check passed.
func (r IntegrityReport) Valid() bool {
	return r.RecordHashValid && r.StageChainValid && r.HashContinuityValid &&
		r.CIDConsistencyValid && r.SignatureBindingValid
}
