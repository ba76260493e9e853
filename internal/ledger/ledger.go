// Package ledger implements the Ledger Anchor Engine described in §4.9: a
// deterministic memo construction, delegation to pluggable chain adapters,
// and a single global hash chain of anchor records spanning every document.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/store"
)

const (
	engineID        = "doc-intelligence-engine"
	protocolVersion = "sovereign-anchor-v1"
)

var (
	ErrNotFound  = errors.New("ledger: anchor record not found")
	ErrNoAdapter = errors.New("ledger: no adapter registered for chain")
)

// Memo is the deterministic payload committed to a chain.
type Memo struct {
	EngineID      string `json:"engineId"`
	Protocol      string `json:"protocol"`
	SHA256        string `json:"sha256"`
	MerkleRoot    string `json:"merkleRoot"`
	CanonicalHash string `json:"canonicalHash,omitempty"`
	SKU           string `json:"sku,omitempty"`
	AnchoredAt    string `json:"anchoredAt"`
}

func (m Memo) fields() map[string]string {
	f := map[string]string{
		"engineId":   m.EngineID,
		"protocol":   m.Protocol,
		"sha256":     m.SHA256,
		"merkleRoot": m.MerkleRoot,
		"anchoredAt": m.AnchoredAt,
	}
	if m.CanonicalHash != "" {
		f["canonicalHash"] = m.CanonicalHash
	}
	if m.SKU != "" {
		f["sku"] = m.SKU
	}
	return f
}

// RedundantAnchor records a secondary chain write sharing the primary
// anchor's id.
type RedundantAnchor struct {
	Chain    Chain  `json:"chain"`
	TxHash   string `json:"txHash"`
	Live     bool   `json:"live"`
	Error    string `json:"error,omitempty"`
}

// Record is one entry in the global anchor chain.
type Record struct {
	AnchorID           string            `json:"anchorId"`
	DocumentID         string            `json:"documentId"`
	SKU                string            `json:"sku,omitempty"`
	Chain              Chain             `json:"chain"`
	TxHash             string            `json:"txHash"`
	CID                string            `json:"cid,omitempty"`
	Memo               Memo              `json:"memo"`
	MemoHash           string            `json:"memoHash"`
	CoseSeal           string            `json:"coseSeal,omitempty"`
	DocumentFingerprint string           `json:"documentFingerprint"`
	SignatureHash      string            `json:"signatureHash,omitempty"`
	EncryptedCID       string            `json:"encryptedCid,omitempty"`
	PreviousAnchorHash string            `json:"previousAnchorHash"`
	Sequence           uint64            `json:"sequence"`
	RecordHash         string            `json:"recordHash"`
	AnchoredAt         time.Time         `json:"anchoredAt"`
	RedundantAnchors   []RedundantAnchor `json:"redundantAnchors,omitempty"`
}

type ledgerDocument struct {
	Engine  string   `json:"engine"`
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

func freshLedgerDocument() ledgerDocument {
	return ledgerDocument{Engine: "doc-sovereign-engine-ledger", Version: 1, Records: []Record{}}
}

// Engine owns the global anchor chain.
type Engine struct {
	store    *store.Store[ledgerDocument]
	adapters map[Chain]Adapter
	sealer   *sealer
}

// Open loads (or creates) the ledger store at path and registers the given
// chain adapters.
func Open(path string, adapters ...Adapter) (*Engine, error) {
	s, err := store.Open(path, freshLedgerDocument)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	seal, err := newSealer()
	if err != nil {
		return nil, err
	}

	byChain := make(map[Chain]Adapter, len(adapters))
	for _, a := range adapters {
		byChain[a.Chain()] = a
	}
	return &Engine{store: s, adapters: byChain, sealer: seal}, nil
}

// AnchorParams is the input to Anchor.
type AnchorParams struct {
	DocumentID    string
	Fingerprint   string
	Chain         Chain
	SKU           string
	CanonicalHash string
	SignatureHash string
	EncryptedCID  string
	SHA256        string
	MerkleRoot    string
}

// Anchor builds the deterministic memo, delegates to the requested chain
// adapter, determines the previous anchor hash from the global chain, and
// appends a new record.
func (e *Engine) Anchor(p AnchorParams) (Record, error) {
	adapter, ok := e.adapters[p.Chain]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNoAdapter, p.Chain)
	}

	memo := Memo{
		EngineID:      engineID,
		Protocol:      protocolVersion,
		SHA256:        p.SHA256,
		MerkleRoot:    p.MerkleRoot,
		CanonicalHash: p.CanonicalHash,
		SKU:           p.SKU,
		AnchoredAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	memoStr := canon.SortedPipeJoin(memo.fields())
	memoHash := canon.Sum256Hex([]byte(memoStr))

	txHash, _, err := adapter.Anchor(memoHash, []byte(memoStr))
	if err != nil {
		return Record{}, fmt.Errorf("ledger: chain adapter %s: %w", p.Chain, err)
	}

	coseSeal, err := e.sealer.Seal([]byte(memoStr))
	if err != nil {
		return Record{}, err
	}

	var outRec Record
	err = e.store.Update(func(doc *ledgerDocument) error {
		seq := uint64(len(doc.Records)) + 1
		prev := canon.GenesisMarker
		if len(doc.Records) > 0 {
			prev = doc.Records[len(doc.Records)-1].RecordHash
		}

		rec := Record{
			AnchorID:            uuid.NewString(),
			DocumentID:          p.DocumentID,
			SKU:                 p.SKU,
			Chain:               p.Chain,
			TxHash:              txHash,
			Memo:                memo,
			MemoHash:            memoHash,
			CoseSeal:            coseSeal,
			DocumentFingerprint: p.Fingerprint,
			SignatureHash:       p.SignatureHash,
			EncryptedCID:        p.EncryptedCID,
			PreviousAnchorHash:  prev,
			Sequence:            seq,
			AnchoredAt:          time.Now().UTC(),
		}
		if p.Chain == ChainIPFS {
			rec.CID = txHash
		}
		rec.RecordHash = computeRecordHash(rec)

		doc.Records = append(doc.Records, rec)
		outRec = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return outRec, nil
}

func computeRecordHash(rec Record) string {
	return canon.JoinHash(
		rec.AnchorID,
		rec.DocumentID,
		string(rec.Chain),
		rec.TxHash,
		rec.MemoHash,
		rec.DocumentFingerprint,
		rec.PreviousAnchorHash,
		canon.Uint64(rec.Sequence),
	)
}

// AnchorMultiChainParams is the input to AnchorMultiChain.
type AnchorMultiChainParams struct {
	Primary    AnchorParams
	Secondary  []Chain
}

// AnchorMultiChain anchors via the primary chain, then attempts each
// secondary; secondary failures are non-fatal and recorded on the primary
// record as redundant anchors.
func (e *Engine) AnchorMultiChain(p AnchorMultiChainParams) (Record, error) {
	primary, err := e.Anchor(p.Primary)
	if err != nil {
		return Record{}, err
	}

	var redundant []RedundantAnchor
	for _, chain := range p.Secondary {
		adapter, ok := e.adapters[chain]
		if !ok {
			redundant = append(redundant, RedundantAnchor{Chain: chain, Error: ErrNoAdapter.Error()})
			continue
		}
		memoStr := canon.SortedPipeJoin(primary.Memo.fields())
		txHash, live, err := adapter.Anchor(primary.MemoHash, []byte(memoStr))
		if err != nil {
			redundant = append(redundant, RedundantAnchor{Chain: chain, Error: err.Error()})
			continue
		}
		redundant = append(redundant, RedundantAnchor{Chain: chain, TxHash: txHash, Live: live})
	}

	if len(redundant) == 0 {
		return primary, nil
	}

	var outRec Record
	err = e.store.Update(func(doc *ledgerDocument) error {
		for i := range doc.Records {
			if doc.Records[i].AnchorID == primary.AnchorID {
				doc.Records[i].RedundantAnchors = redundant
				outRec = doc.Records[i]
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return Record{}, err
	}
	return outRec, nil
}

// VerifyResult is the per-anchor outcome of VerifyAnchor.
type VerifyResult struct {
	AnchorID           string `json:"anchorId"`
	Sequence           uint64 `json:"sequence"`
	RecordHashValid    bool   `json:"recordHashValid"`
	MemoHashValid      bool   `json:"memoHashValid"`
	PreviousHashValid  bool   `json:"previousHashValid"`
	Valid              bool   `json:"valid"`
	Issues             []string `json:"issues,omitempty"`
}

// VerifyAnchor recomputes recordHash and memoHash for anchorId, and for
// sequence > 1 confirms previousAnchorHash equals the prior record's
// recordHash.
func (e *Engine) VerifyAnchor(anchorID string) (VerifyResult, error) {
	var records []Record
	e.store.View(func(doc *ledgerDocument) {
		records = make([]Record, len(doc.Records))
		copy(records, doc.Records)
	})

	idx := -1
	for i, r := range records {
		if r.AnchorID == anchorID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return VerifyResult{}, ErrNotFound
	}

	return verifyAt(records, idx), nil
}

func verifyAt(records []Record, idx int) VerifyResult {
	rec := records[idx]
	result := VerifyResult{AnchorID: rec.AnchorID, Sequence: rec.Sequence, Valid: true, RecordHashValid: true, MemoHashValid: true, PreviousHashValid: true}

	if computeRecordHash(rec) != rec.RecordHash {
		result.RecordHashValid = false
		result.Valid = false
		result.Issues = append(result.Issues, "recordHash does not match recomputation")
	}

	memoStr := canon.SortedPipeJoin(rec.Memo.fields())
	if canon.Sum256Hex([]byte(memoStr)) != rec.MemoHash {
		result.MemoHashValid = false
		result.Valid = false
		result.Issues = append(result.Issues, "memoHash does not match recomputation")
	}

	if rec.Sequence > 1 {
		if idx == 0 || records[idx-1].RecordHash != rec.PreviousAnchorHash {
			result.PreviousHashValid = false
			result.Valid = false
			result.Issues = append(result.Issues, "previousAnchorHash does not match the prior record")
		}
	}

	return result
}

// VerifyFullChainReport is the result of walking the entire anchor list.
type VerifyFullChainReport struct {
	Valid   bool           `json:"valid"`
	Count   int            `json:"count"`
	Results []VerifyResult `json:"results"`
}

// VerifyFullChain walks the entire anchor list.
func (e *Engine) VerifyFullChain() VerifyFullChainReport {
	var records []Record
	e.store.View(func(doc *ledgerDocument) {
		records = make([]Record, len(doc.Records))
		copy(records, doc.Records)
	})

	report := VerifyFullChainReport{Valid: true, Count: len(records)}
	for i := range records {
		res := verifyAt(records, i)
		report.Results = append(report.Results, res)
		if !res.Valid {
			report.Valid = false
		}
	}
	return report
}

// GetAnchor returns the anchor record by id.
func (e *Engine) GetAnchor(anchorID string) (Record, error) {
	var out Record
	found := false
	e.store.View(func(doc *ledgerDocument) {
		for _, r := range doc.Records {
			if r.AnchorID == anchorID {
				out, found = r, true
				return
			}
		}
	})
	if !found {
		return Record{}, ErrNotFound
	}
	return out, nil
}
