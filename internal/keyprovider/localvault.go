package keyprovider

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/doc-sovereign/engine/internal/store"
)

const pbkdf2SaltSize = 32
const pbkdf2Iterations = 100_000
const aesKeySize = 32 // 256-bit
const gcmNonceSize = 16 // 128-bit IV per §4.10

// vaultEntry is the on-disk record for one key, one file under
// .doc-engine/sovereign-key-vault.json.
type vaultEntry struct {
	Metadata Metadata `json:"metadata"`
	KeyHex   string   `json:"keyHex"`
}

type vaultDocument struct {
	Engine  string       `json:"engine"`
	Version int          `json:"version"`
	Warning string       `json:"warning"`
	Entries []vaultEntry `json:"entries"`
}

func freshVaultDocument() vaultDocument {
	return vaultDocument{
		Engine:  "doc-sovereign-engine",
		Version: 1,
		Warning: "This file contains raw cryptographic key material for the local vault provider. Protect it like a password database.",
		Entries: []vaultEntry{},
	}
}

// LocalVault is the default key provider: a single JSON file holding
// (keyId, raw key hex, metadata). All derivations are extractable.
type LocalVault struct {
	store      *store.Store[vaultDocument]
	iterations int
}

// NewLocalVault opens (or creates) the vault file at path.
func NewLocalVault(path string, iterations int) (*LocalVault, error) {
	if iterations < pbkdf2Iterations {
		iterations = pbkdf2Iterations
	}
	s, err := store.Open(path, freshVaultDocument)
	if err != nil {
		return nil, fmt.Errorf("localvault: open: %w", err)
	}
	return &LocalVault{store: s, iterations: iterations}, nil
}

func (v *LocalVault) Name() string { return "local-vault" }

func (v *LocalVault) GenerateKey(_ context.Context, params GenerateParams) (Metadata, error) {
	var keyBytes []byte
	algorithm := "AES-256-GCM"

	switch params.Derivation {
	case "", DerivationRandom:
		params.Derivation = DerivationRandom
		keyBytes = make([]byte, aesKeySize)
		if _, err := cryptorand.Read(keyBytes); err != nil {
			return Metadata{}, fmt.Errorf("localvault: generate random key: %w", err)
		}
	case DerivationPassphrase:
		if params.Passphrase == "" {
			return Metadata{}, errors.New("localvault: passphrase derivation requires a passphrase")
		}
		salt := make([]byte, pbkdf2SaltSize)
		if _, err := cryptorand.Read(salt); err != nil {
			return Metadata{}, fmt.Errorf("localvault: generate salt: %w", err)
		}
		derived := pbkdf2.Key([]byte(params.Passphrase), salt, v.iterations, aesKeySize, sha512.New)
		// The salt travels with the key material so the same derivation can be
		// audited later; it is not secret on its own.
		keyBytes = append(salt, derived...)
		algorithm = "PBKDF2-HMAC-SHA512+AES-256-GCM"
	case DerivationSignerKey:
		if params.SignerIdentityHash == "" {
			return Metadata{}, errors.New("localvault: signer-key derivation requires a signer identity hash")
		}
		sum := sha512.Sum512([]byte(params.SignerIdentityHash))
		keyBytes = sum[:aesKeySize]
	default:
		return Metadata{}, fmt.Errorf("localvault: unsupported derivation %q", params.Derivation)
	}

	if params.Purpose == "" {
		params.Purpose = PurposeEncryption
	}

	keyID := uuid.NewString()
	meta := Metadata{
		KeyID:       keyID,
		Derivation:  params.Derivation,
		Purpose:     params.Purpose,
		DocumentID:  params.DocumentID,
		SKU:         params.SKU,
		CreatedAt:   time.Now().UTC(),
		Extractable: true,
		Provider:    v.Name(),
		Algorithm:   algorithm,
		KeyLength:   len(keyBytes) * 8,
	}

	err := v.store.Update(func(doc *vaultDocument) error {
		doc.Entries = append(doc.Entries, vaultEntry{Metadata: meta, KeyHex: hex.EncodeToString(keyBytes)})
		return nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (v *LocalVault) find(keyID string) (vaultEntry, int, error) {
	var found vaultEntry
	idx := -1
	v.store.View(func(doc *vaultDocument) {
		for i, e := range doc.Entries {
			if e.Metadata.KeyID == keyID {
				found, idx = e, i
				return
			}
		}
	})
	if idx < 0 {
		return vaultEntry{}, -1, ErrKeyNotFound
	}
	if found.Metadata.DestroyedAt != nil {
		return vaultEntry{}, -1, ErrKeyDestroyed
	}
	return found, idx, nil
}

// encryptionKey returns the 32-byte AES key for an entry, handling the
// passphrase derivation's salt-prefixed storage layout.
func (e vaultEntry) encryptionKey() ([]byte, error) {
	raw, err := hex.DecodeString(e.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("localvault: decode key material: %w", err)
	}
	if e.Metadata.Derivation == DerivationPassphrase {
		if len(raw) < pbkdf2SaltSize+aesKeySize {
			return nil, errors.New("localvault: malformed passphrase-derived key entry")
		}
		return raw[pbkdf2SaltSize:], nil
	}
	if len(raw) < aesKeySize {
		return nil, errors.New("localvault: key material shorter than AES-256 key size")
	}
	return raw[:aesKeySize], nil
}

func (v *LocalVault) Encrypt(_ context.Context, keyID string, plaintext []byte) (EncryptResult, error) {
	entry, _, err := v.find(keyID)
	if err != nil {
		return EncryptResult{}, err
	}
	key, err := entry.encryptionKey()
	if err != nil {
		return EncryptResult{}, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return EncryptResult{}, fmt.Errorf("localvault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return EncryptResult{}, fmt.Errorf("localvault: new gcm: %w", err)
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := cryptorand.Read(iv); err != nil {
		return EncryptResult{}, fmt.Errorf("localvault: generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcm.Overhead()]
	authTag := sealed[len(sealed)-gcm.Overhead():]

	digest := sha256.Sum256(plaintext)

	return EncryptResult{
		KeyID:           keyID,
		Algorithm:       "AES-256-GCM",
		CiphertextB64:   base64.StdEncoding.EncodeToString(ciphertext),
		IVHex:           hex.EncodeToString(iv),
		AuthTagHex:      hex.EncodeToString(authTag),
		PlaintextSHA256: hex.EncodeToString(digest[:]),
		PlaintextSize:   int64(len(plaintext)),
	}, nil
}

func (v *LocalVault) Decrypt(_ context.Context, params DecryptParams) ([]byte, error) {
	entry, _, err := v.find(params.KeyID)
	if err != nil {
		return nil, err
	}
	key, err := entry.encryptionKey()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("localvault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, fmt.Errorf("localvault: new gcm: %w", err)
	}

	iv, err := hex.DecodeString(params.IVHex)
	if err != nil {
		return nil, fmt.Errorf("localvault: decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(params.CiphertextB64)
	if err != nil {
		return nil, fmt.Errorf("localvault: decode ciphertext: %w", err)
	}
	authTag, err := hex.DecodeString(params.AuthTagHex)
	if err != nil {
		return nil, fmt.Errorf("localvault: decode auth tag: %w", err)
	}

	sealed := append(append([]byte{}, ciphertext...), authTag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrAuthTagMismatch
	}

	if params.ExpectedSHA256 != "" {
		got := sha256.Sum256(plaintext)
		if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(got[:])), []byte(params.ExpectedSHA256)) != 1 {
			return nil, ErrDigestMismatch
		}
	}
	return plaintext, nil
}

func (v *LocalVault) Sign(_ context.Context, keyID string, digestHex string) (string, error) {
	entry, _, err := v.find(keyID)
	if err != nil {
		return "", err
	}
	key, err := entry.encryptionKey()
	if err != nil {
		return "", err
	}
	return hmacSHA256Hex(key, digestHex), nil
}

func (v *LocalVault) Verify(_ context.Context, keyID string, digestHex string, signatureHex string) (bool, error) {
	entry, _, err := v.find(keyID)
	if err != nil {
		return false, err
	}
	key, err := entry.encryptionKey()
	if err != nil {
		return false, err
	}
	expected := hmacSHA256Hex(key, digestHex)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureHex)) == 1, nil
}

func (v *LocalVault) RotateKey(ctx context.Context, keyID string) (Metadata, error) {
	entry, idx, err := v.find(keyID)
	if err != nil {
		return Metadata{}, err
	}

	newMeta, err := v.GenerateKey(ctx, GenerateParams{
		Derivation: DerivationRandom,
		Purpose:    entry.Metadata.Purpose,
		DocumentID: entry.Metadata.DocumentID,
		SKU:        entry.Metadata.SKU,
	})
	if err != nil {
		return Metadata{}, err
	}

	err = v.store.Update(func(doc *vaultDocument) error {
		if idx >= len(doc.Entries) || doc.Entries[idx].Metadata.KeyID != keyID {
			return ErrKeyNotFound
		}
		doc.Entries[idx].Metadata.SupersededBy = newMeta.KeyID
		return nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return newMeta, nil
}

func (v *LocalVault) DestroyKey(_ context.Context, keyID string) error {
	return v.store.Update(func(doc *vaultDocument) error {
		for i := range doc.Entries {
			if doc.Entries[i].Metadata.KeyID != keyID {
				continue
			}
			if doc.Entries[i].Metadata.DestroyedAt != nil {
				return nil
			}
			raw, err := hex.DecodeString(doc.Entries[i].KeyHex)
			if err != nil {
				return fmt.Errorf("localvault: decode key material: %w", err)
			}
			for j := range raw {
				raw[j] = 0
			}
			if _, err := cryptorand.Read(raw); err != nil {
				return fmt.Errorf("localvault: overwrite key material: %w", err)
			}
			doc.Entries[i].KeyHex = hex.EncodeToString(raw)
			now := time.Now().UTC()
			doc.Entries[i].Metadata.DestroyedAt = &now
			return nil
		}
		return ErrKeyNotFound
	})
}

func (v *LocalVault) GetKeyMetadata(_ context.Context, keyID string) (Metadata, error) {
	entry, _, err := v.find(keyID)
	if err != nil {
		return Metadata{}, err
	}
	return entry.Metadata, nil
}

func (v *LocalVault) ListKeys(_ context.Context) ([]Metadata, error) {
	var out []Metadata
	v.store.View(func(doc *vaultDocument) {
		out = make([]Metadata, 0, len(doc.Entries))
		for _, e := range doc.Entries {
			out = append(out, e.Metadata)
		}
	})
	return out, nil
}

func (v *LocalVault) GetStats(_ context.Context) (Stats, error) {
	var s Stats
	s.Provider = v.Name()
	v.store.View(func(doc *vaultDocument) {
		s.TotalKeys = len(doc.Entries)
		for _, e := range doc.Entries {
			if e.Metadata.DestroyedAt != nil {
				s.DestroyedKeys++
			} else {
				s.ActiveKeys++
			}
		}
	})
	return s, nil
}
