package keyprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/doc-sovereign/engine/internal/store"
)

// hsmKeyRecord tracks only metadata — an HSM-backed key's material never
// lives in this process.
type hsmKeyRecord struct {
	Metadata Metadata `json:"metadata"`
}

type hsmDocument struct {
	Engine  string         `json:"engine"`
	Version int            `json:"version"`
	Records []hsmKeyRecord `json:"records"`
}

func freshHSMDocument() hsmDocument {
	return hsmDocument{Engine: "doc-sovereign-engine-hsm-stub", Version: 1, Records: []hsmKeyRecord{}}
}

// HSMStub implements Provider against the same interface as LocalVault, but
// tracks only key metadata. Every operation that would need to touch raw key
// material (encrypt, decrypt, sign, verify) requires a configured backend
// and fails with ErrBackendRequired — the point of this type is to prove the
// Provider abstraction is backend-agnostic, not to be a working HSM client.
type HSMStub struct {
	store *store.Store[hsmDocument]
}

// NewHSMStub opens (or creates) the metadata-only HSM ledger at path.
func NewHSMStub(path string) (*HSMStub, error) {
	s, err := store.Open(path, freshHSMDocument)
	if err != nil {
		return nil, fmt.Errorf("hsmstub: open: %w", err)
	}
	return &HSMStub{store: s}, nil
}

func (h *HSMStub) Name() string { return "hsm-stub" }

func (h *HSMStub) GenerateKey(_ context.Context, params GenerateParams) (Metadata, error) {
	if params.Purpose == "" {
		params.Purpose = PurposeEncryption
	}
	meta := Metadata{
		KeyID:       uuid.NewString(),
		Derivation:  DerivationHSMManaged,
		Purpose:     params.Purpose,
		DocumentID:  params.DocumentID,
		SKU:         params.SKU,
		CreatedAt:   time.Now().UTC(),
		Extractable: false,
		Provider:    h.Name(),
		Algorithm:   "hsm-managed",
		KeyLength:   256,
	}
	err := h.store.Update(func(doc *hsmDocument) error {
		doc.Records = append(doc.Records, hsmKeyRecord{Metadata: meta})
		return nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (h *HSMStub) Encrypt(context.Context, string, []byte) (EncryptResult, error) {
	return EncryptResult{}, ErrBackendRequired
}

func (h *HSMStub) Decrypt(context.Context, DecryptParams) ([]byte, error) {
	return nil, ErrBackendRequired
}

func (h *HSMStub) Sign(context.Context, string, string) (string, error) {
	return "", ErrBackendRequired
}

func (h *HSMStub) Verify(context.Context, string, string, string) (bool, error) {
	return false, ErrBackendRequired
}

func (h *HSMStub) RotateKey(ctx context.Context, keyID string) (Metadata, error) {
	meta, err := h.GetKeyMetadata(ctx, keyID)
	if err != nil {
		return Metadata{}, err
	}
	newMeta, err := h.GenerateKey(ctx, GenerateParams{Purpose: meta.Purpose, DocumentID: meta.DocumentID, SKU: meta.SKU})
	if err != nil {
		return Metadata{}, err
	}
	err = h.store.Update(func(doc *hsmDocument) error {
		for i := range doc.Records {
			if doc.Records[i].Metadata.KeyID == keyID {
				doc.Records[i].Metadata.SupersededBy = newMeta.KeyID
				return nil
			}
		}
		return ErrKeyNotFound
	})
	if err != nil {
		return Metadata{}, err
	}
	return newMeta, nil
}

func (h *HSMStub) DestroyKey(_ context.Context, keyID string) error {
	return h.store.Update(func(doc *hsmDocument) error {
		for i := range doc.Records {
			if doc.Records[i].Metadata.KeyID == keyID {
				now := time.Now().UTC()
				doc.Records[i].Metadata.DestroyedAt = &now
				return nil
			}
		}
		return ErrKeyNotFound
	})
}

func (h *HSMStub) GetKeyMetadata(_ context.Context, keyID string) (Metadata, error) {
	var meta Metadata
	found := false
	h.store.View(func(doc *hsmDocument) {
		for _, r := range doc.Records {
			if r.Metadata.KeyID == keyID {
				meta, found = r.Metadata, true
				return
			}
		}
	})
	if !found {
		return Metadata{}, ErrKeyNotFound
	}
	return meta, nil
}

func (h *HSMStub) ListKeys(_ context.Context) ([]Metadata, error) {
	var out []Metadata
	h.store.View(func(doc *hsmDocument) {
		out = make([]Metadata, 0, len(doc.Records))
		for _, r := range doc.Records {
			out = append(out, r.Metadata)
		}
	})
	return out, nil
}

func (h *HSMStub) GetStats(_ context.Context) (Stats, error) {
	var s Stats
	s.Provider = h.Name()
	h.store.View(func(doc *hsmDocument) {
		s.TotalKeys = len(doc.Records)
		for _, r := range doc.Records {
			if r.Metadata.DestroyedAt != nil {
				s.DestroyedKeys++
			} else {
				s.ActiveKeys++
			}
		}
	})
	return s, nil
}
