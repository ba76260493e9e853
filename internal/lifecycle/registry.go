package lifecycle

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/merkle"
	"github.com/doc-sovereign/engine/internal/store"
)

var (
	// ErrNotFound is returned by advanceStage (and the getters) when no
	// lifecycle record exists for the given document id. Per §4.1, callers
	// must create a lifecycle before advancing it.
	ErrNotFound = errors.New("lifecycle: document not found")

	ErrAlreadyExists = errors.New("lifecycle: document already has a lifecycle record")
	ErrStageRegressed = errors.New("lifecycle: target stage precedes the current stage")
	ErrUnknownStage   = errors.New("lifecycle: unrecognized target stage")
)

type document struct {
	Engine      string    `json:"engine"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
	Records     []Record  `json:"records"`
}

func freshDocument() document {
	now := time.Now().UTC()
	return document{Engine: "doc-sovereign-engine", Version: 1, CreatedAt: now, LastUpdated: now, Records: []Record{}}
}

// Registry is the authoritative per-document state machine store.
type Registry struct {
	store *store.Store[document]
}

// Open loads (or creates) the lifecycle registry file at path.
func Open(path string) (*Registry, error) {
	s, err := store.Open(path, freshDocument)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open: %w", err)
	}
	return &Registry{store: s}, nil
}

// CreateLifecycle is idempotent on docId: if a record already exists it is
// returned unchanged.
func (r *Registry) CreateLifecycle(docID, sku, sourceFile, title, draftHash string, canonicalHash, merkleRoot *string, actor string, previousVersionID *string) (Record, error) {
	var out Record
	err := r.store.Update(func(doc *document) error {
		for _, rec := range doc.Records {
			if rec.DocumentID == docID {
				out = rec
				return nil
			}
		}

		now := time.Now().UTC()
		rec := Record{
			DocumentID:   docID,
			SKU:          sku,
			Title:        title,
			SourceFile:   sourceFile,
			CurrentStage: StageIngested,
			Version:      1,
			DraftHash:    draftHash,
			CreatedAt:    now,
		}
		if canonicalHash != nil {
			rec.CanonicalHash = *canonicalHash
		}
		if merkleRoot != nil {
			rec.MerkleRoot = *merkleRoot
		}
		if previousVersionID != nil {
			for _, prev := range doc.Records {
				if prev.DocumentID == *previousVersionID {
					rec.PredecessorDocumentID = prev.DocumentID
					rec.PredecessorHash = prev.SelfHash
					rec.Version = prev.Version + 1
				}
			}
		}

		rec.Transitions = []Transition{{
			Stage:       StageIngested,
			ContentHash: draftHash,
			Actor:       actor,
			Timestamp:   now,
		}}
		rec.LastTransition = now
		if merkleRoot == nil {
			rec.MerkleRoot = transitionMerkleRoot(rec.Transitions)
		}
		rec.SelfHash = computeSelfHash(rec)

		doc.Records = append(doc.Records, rec)
		doc.LastUpdated = now
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// AdvanceStage appends a transition, recomputes stage-specific top-level
// fields, and re-hashes the record.
func (r *Registry) AdvanceStage(docID string, target Stage, params AdvanceParams) (Record, error) {
	var out Record
	err := r.store.Update(func(doc *document) error {
		idx := indexOf(doc.Records, docID)
		if idx < 0 {
			return ErrNotFound
		}
		rec := doc.Records[idx]

		if err := validateTransition(rec, target); err != nil {
			return err
		}

		now := time.Now().UTC()
		t := Transition{
			Stage:       target,
			ContentHash: params.ContentHash,
			CID:         params.CID,
			LedgerTx:    params.LedgerTx,
			Chain:       params.Chain,
			BlockHeight: params.BlockHeight,
			Actor:       params.Actor,
			Evidence:    params.Evidence,
			Timestamp:   now,
		}
		rec.Transitions = append(rec.Transitions, t)
		rec.CurrentStage = target
		rec.LastTransition = now
		rec.MerkleRoot = transitionMerkleRoot(rec.Transitions)

		switch target {
		case StageCanonicalized:
			rec.CanonicalHash = params.ContentHash
		case StageComplianceInjected:
			rec.ComplianceHash = params.ContentHash
		case StageSigned:
			rec.SignedHash = params.ContentHash
		case StageEncrypted:
			rec.EncryptedCID = params.CID
		case StageAnchored:
			rec.LedgerTx = params.LedgerTx
			rec.Chain = params.Chain
			rec.BlockHeight = params.BlockHeight
		case StageRegistered:
			rec.PlainCID = params.CID
		}
		if params.CID != "" && target != StageEncrypted {
			rec.PlainCID = params.CID
		}

		rec.SelfHash = computeSelfHash(rec)
		doc.Records[idx] = rec
		doc.LastUpdated = now
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func validateTransition(rec Record, target Stage) error {
	if target == StageArchived || target == StageSuperseded {
		return nil // terminal states are reachable from anywhere
	}
	targetIdx, ok := StageIndex(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, target)
	}
	currentIdx, ok := StageIndex(rec.CurrentStage)
	if !ok {
		// current stage is itself terminal; no forward transitions remain
		return ErrStageRegressed
	}
	if targetIdx < currentIdx {
		return fmt.Errorf("%w: %s (%d) precedes %s (%d)", ErrStageRegressed, target, targetIdx, rec.CurrentStage, currentIdx)
	}
	return nil
}

// GetLifecycle returns the record for docID.
func (r *Registry) GetLifecycle(docID string) (Record, error) {
	var out Record
	found := false
	r.store.View(func(doc *document) {
		for _, rec := range doc.Records {
			if rec.DocumentID == docID {
				out, found = rec, true
				return
			}
		}
	})
	if !found {
		return Record{}, ErrNotFound
	}
	return out, nil
}

// GetLifecycleBySKU returns the record matching sku.
func (r *Registry) GetLifecycleBySKU(sku string) (Record, error) {
	var out Record
	found := false
	r.store.View(func(doc *document) {
		for _, rec := range doc.Records {
			if rec.SKU == sku {
				out, found = rec, true
				return
			}
		}
	})
	if !found {
		return Record{}, ErrNotFound
	}
	return out, nil
}

// GetVersionChain walks the predecessor chain leaves-first (oldest version
// first) for docID's lineage.
func (r *Registry) GetVersionChain(docID string) ([]Record, error) {
	start, err := r.GetLifecycle(docID)
	if err != nil {
		return nil, err
	}

	var chain []Record
	seen := map[string]bool{}
	cur := start
	for {
		chain = append([]Record{cur}, chain...)
		if cur.PredecessorDocumentID == "" || seen[cur.PredecessorDocumentID] {
			break
		}
		seen[cur.PredecessorDocumentID] = true
		prev, err := r.GetLifecycle(cur.PredecessorDocumentID)
		if err != nil {
			break
		}
		cur = prev
	}
	return chain, nil
}

// VerifyIntegrity runs the five-way deep check described in §4.1.
func (r *Registry) VerifyIntegrity(docID string) (IntegrityReport, error) {
	rec, err := r.GetLifecycle(docID)
	if err != nil {
		return IntegrityReport{}, err
	}
	return verify(rec), nil
}

func verify(rec Record) IntegrityReport {
	report := IntegrityReport{
		RecordHashValid:       true,
		StageChainValid:       true,
		HashContinuityValid:   true,
		CIDConsistencyValid:   true,
		SignatureBindingValid: true,
	}

	if computeSelfHash(rec) != rec.SelfHash {
		report.RecordHashValid = false
		report.Issues = append(report.Issues, fmt.Sprintf("record %s: self-hash mismatch", rec.DocumentID))
	}

	lastIdx := -1
	var lastTS time.Time
	for i, t := range rec.Transitions {
		if idx, ok := StageIndex(t.Stage); ok {
			if idx < lastIdx {
				report.StageChainValid = false
				report.Issues = append(report.Issues, fmt.Sprintf("transition %d: stage %s regresses the stage order", i, t.Stage))
			}
			lastIdx = idx
		}
		if i > 0 && t.Timestamp.Before(lastTS) {
			report.StageChainValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("transition %d: timestamp precedes transition %d", i, i-1))
		}
		lastTS = t.Timestamp
	}
	if len(rec.Transitions) == 0 {
		report.StageChainValid = false
		report.Issues = append(report.Issues, "record has no transitions")
	} else if rec.CurrentStage != rec.Transitions[len(rec.Transitions)-1].Stage {
		report.StageChainValid = false
		report.Issues = append(report.Issues, "currentStage does not equal the last transition's stage")
	}

	if len(rec.Transitions) > 0 && rec.Transitions[0].ContentHash != rec.DraftHash {
		report.HashContinuityValid = false
		report.Issues = append(report.Issues, "first transition's contentHash does not equal draftHash")
	}
	for i, t := range rec.Transitions {
		if t.ContentHash == "" {
			report.HashContinuityValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("transition %d has no contentHash", i))
		}
	}
	if rec.SignedHash != "" && !hasStage(rec, StageSigned) {
		report.HashContinuityValid = false
		report.Issues = append(report.Issues, "signedHash is set but no signed transition exists")
	}

	if rec.PlainCID != "" && !cidReferenced(rec, rec.PlainCID) {
		report.CIDConsistencyValid = false
		report.Issues = append(report.Issues, "plainCid is not referenced by any transition")
	}
	if rec.EncryptedCID != "" && rec.EncryptedCID == rec.PlainCID {
		report.CIDConsistencyValid = false
		report.Issues = append(report.Issues, "encryptedCid equals plainCid")
	}
	if rec.LedgerTx != "" && !hasStage(rec, StageAnchored) {
		report.CIDConsistencyValid = false
		report.Issues = append(report.Issues, "ledgerTx is set but no anchored transition exists")
	}

	if rec.CertificateHash != "" && rec.SignedHash == "" {
		report.SignatureBindingValid = false
		report.Issues = append(report.Issues, "certificateHash is set but signedHash is not")
	}

	return report
}

func hasStage(rec Record, s Stage) bool {
	for _, t := range rec.Transitions {
		if t.Stage == s {
			return true
		}
	}
	return false
}

func cidReferenced(rec Record, cid string) bool {
	for _, t := range rec.Transitions {
		if t.CID == cid {
			return true
		}
	}
	return false
}

// transitionMerkleRoot folds every transition's contentHash into a Merkle
// Mountain Range leaf and returns the bagged root, hex-encoded. Content
// hashes are hex-decoded where possible so equal hashes always produce equal
// leaves regardless of case; a hash that isn't valid hex (a test fixture, or
// an upstream producer that hands back an opaque id) falls back to its raw
// bytes rather than failing the record.
func transitionMerkleRoot(transitions []Transition) string {
	if len(transitions) == 0 {
		return ""
	}
	leaves := make([][]byte, 0, len(transitions))
	for _, t := range transitions {
		if b, err := hex.DecodeString(t.ContentHash); err == nil {
			leaves = append(leaves, b)
		} else {
			leaves = append(leaves, []byte(t.ContentHash))
		}
	}
	root, err := merkle.RootOf(leaves)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(root)
}

func indexOf(records []Record, docID string) int {
	for i, r := range records {
		if r.DocumentID == docID {
			return i
		}
	}
	return -1
}

// computeSelfHash is deterministic over (docId, sku, version, draftHash, and
// the (stage, contentHash, timestamp) triple of every transition).
func computeSelfHash(rec Record) string {
	parts := []string{rec.DocumentID, rec.SKU, canon.Int(rec.Version), rec.DraftHash}
	for _, t := range rec.Transitions {
		parts = append(parts, string(t.Stage), t.ContentHash, t.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	return canon.JoinHash(parts...)
}
