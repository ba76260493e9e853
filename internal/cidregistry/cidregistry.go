// Package cidregistry implements the content-address bookkeeping described
// in §4.11: a CID → SHA-256 registry that refuses split-brain duplicates,
// and a single global hash-chained event log. The event log is opened by
// bootstrap, but no other package in this engine appends to it.
package cidregistry

import (
	"errors"
	"fmt"
	"time"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/store"
)

var (
	ErrCIDConflict = errors.New("cidregistry: cid already registered with a different sha256")
	ErrNotFound    = errors.New("cidregistry: record not found")
)

// Record is a content-addressed artifact.
type Record struct {
	CID          string            `json:"cid"`
	SHA256       string            `json:"sha256"`
	MerkleRoot   string            `json:"merkleRoot,omitempty"`
	SourceFile   string            `json:"sourceFile"`
	SKU          string            `json:"sku"`
	Size         int64             `json:"size"`
	RegisteredAt time.Time         `json:"registeredAt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	SelfHash     string            `json:"selfHash"`
}

type cidDocument struct {
	Engine  string   `json:"engine"`
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

func freshCIDDocument() cidDocument {
	return cidDocument{Engine: "doc-sovereign-engine-cid", Version: 1, Records: []Record{}}
}

// Registry is the SKU/CID/SHA-256 content-address bookkeeping store.
type Registry struct {
	store *store.Store[cidDocument]
}

// Open loads (or creates) the CID registry file at path.
func Open(path string) (*Registry, error) {
	s, err := store.Open(path, freshCIDDocument)
	if err != nil {
		return nil, fmt.Errorf("cidregistry: open: %w", err)
	}
	return &Registry{store: s}, nil
}

// RegisterParams is the input to Register.
type RegisterParams struct {
	CID        string
	SHA256     string
	MerkleRoot string
	SourceFile string
	SKU        string
	Size       int64
	Metadata   map[string]string
}

// Register records a new content-addressed artifact. A second record with
// the same CID but a different SHA-256 is refused (split-brain refusal); a
// register with matching CID and SHA-256 is treated as idempotent and
// returns the existing record.
func (r *Registry) Register(p RegisterParams) (Record, error) {
	var out Record
	err := r.store.Update(func(doc *cidDocument) error {
		for _, rec := range doc.Records {
			if rec.CID == p.CID {
				if rec.SHA256 != p.SHA256 {
					return fmt.Errorf("%w: cid=%s existing=%s incoming=%s", ErrCIDConflict, p.CID, rec.SHA256, p.SHA256)
				}
				out = rec
				return nil
			}
		}

		rec := Record{
			CID:          p.CID,
			SHA256:       p.SHA256,
			MerkleRoot:   p.MerkleRoot,
			SourceFile:   p.SourceFile,
			SKU:          p.SKU,
			Size:         p.Size,
			RegisteredAt: time.Now().UTC(),
			Metadata:     p.Metadata,
		}
		rec.SelfHash = computeRecordHash(rec)
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
	metadataHash := canon.CanonicalMapHash(metadataAsAny(rec.Metadata))
	return canon.JoinHash(rec.CID, rec.SHA256, rec.MerkleRoot, rec.SourceFile, rec.SKU, canon.Int(int(rec.Size)), metadataHash)
}

// metadataAsAny widens a string-valued metadata bag to map[string]any so it
// can be folded into a record hash through canon's canonical CBOR encoder.
func metadataAsAny(m map[string]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LookupByCID returns the record with the given CID.
func (r *Registry) LookupByCID(cid string) (Record, error) {
	return r.find(func(rec Record) bool { return rec.CID == cid })
}

// LookupBySHA256 returns the record with the given SHA-256.
func (r *Registry) LookupBySHA256(sha256Hex string) (Record, error) {
	return r.find(func(rec Record) bool { return rec.SHA256 == sha256Hex })
}

// LookupBySKU returns the record with the given SKU.
func (r *Registry) LookupBySKU(sku string) (Record, error) {
	return r.find(func(rec Record) bool { return rec.SKU == sku })
}

func (r *Registry) find(match func(Record) bool) (Record, error) {
	var out Record
	found := false
	r.store.View(func(doc *cidDocument) {
		for _, rec := range doc.Records {
			if match(rec) {
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
