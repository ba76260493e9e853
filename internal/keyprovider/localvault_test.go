package keyprovider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
)

func openTestVault(t *testing.T) *LocalVault {
	t.Helper()
	v, err := NewLocalVault(filepath.Join(t.TempDir(), "vault.json"), 0)
	if err != nil {
		t.Fatalf("NewLocalVault: %v", err)
	}
	return v
}

func TestLocalVaultEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := openTestVault(t)

	meta, err := v.GenerateKey(ctx, GenerateParams{Purpose: PurposeEncryption})
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	plaintext := []byte("a sovereign document body")
	enc, err := v.Encrypt(ctx, meta.KeyID, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := v.Decrypt(ctx, DecryptParams{
		KeyID:          meta.KeyID,
		CiphertextB64:  enc.CiphertextB64,
		IVHex:          enc.IVHex,
		AuthTagHex:     enc.AuthTagHex,
		ExpectedSHA256: enc.PlaintextSHA256,
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestLocalVaultDecryptRejectsTamperedAuthTag(t *testing.T) {
	ctx := context.Background()
	v := openTestVault(t)

	meta, _ := v.GenerateKey(ctx, GenerateParams{Purpose: PurposeEncryption})
	enc, err := v.Encrypt(ctx, meta.KeyID, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tagBytes, _ := hex.DecodeString(enc.AuthTagHex)
	tagBytes[0] ^= 0xFF
	enc.AuthTagHex = hex.EncodeToString(tagBytes)

	_, err = v.Decrypt(ctx, DecryptParams{
		KeyID: meta.KeyID, CiphertextB64: enc.CiphertextB64, IVHex: enc.IVHex, AuthTagHex: enc.AuthTagHex,
	})
	if !errors.Is(err, ErrAuthTagMismatch) {
		t.Fatalf("expected ErrAuthTagMismatch, got %v", err)
	}
}

func TestLocalVaultSignVerify(t *testing.T) {
	ctx := context.Background()
	v := openTestVault(t)

	meta, _ := v.GenerateKey(ctx, GenerateParams{Purpose: PurposeSigning})
	digest := sha256.Sum256([]byte("document bytes"))
	digestHex := hex.EncodeToString(digest[:])

	sig, err := v.Sign(ctx, meta.KeyID, digestHex)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := v.Verify(ctx, meta.KeyID, digestHex, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}

	ok, err = v.Verify(ctx, meta.KeyID, digestHex, sig[:len(sig)-2]+"00")
	if err != nil {
		t.Fatalf("Verify (tampered): %v", err)
	}
	if ok {
		t.Fatalf("expected tampered signature to fail verification")
	}
}

func TestLocalVaultPassphraseDerivationRequiresPassphrase(t *testing.T) {
	ctx := context.Background()
	v := openTestVault(t)

	if _, err := v.GenerateKey(ctx, GenerateParams{Derivation: DerivationPassphrase}); err == nil {
		t.Fatalf("expected an error when passphrase derivation is requested without a passphrase")
	}
}

func TestLocalVaultDestroyKeyBlocksFurtherUse(t *testing.T) {
	ctx := context.Background()
	v := openTestVault(t)

	meta, _ := v.GenerateKey(ctx, GenerateParams{Purpose: PurposeEncryption})
	if err := v.DestroyKey(ctx, meta.KeyID); err != nil {
		t.Fatalf("DestroyKey: %v", err)
	}

	if _, err := v.Encrypt(ctx, meta.KeyID, []byte("x")); !errors.Is(err, ErrKeyDestroyed) {
		t.Fatalf("expected ErrKeyDestroyed, got %v", err)
	}

	stats, err := v.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.DestroyedKeys != 1 || stats.ActiveKeys != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLocalVaultRotateKeySupersedes(t *testing.T) {
	ctx := context.Background()
	v := openTestVault(t)

	meta, _ := v.GenerateKey(ctx, GenerateParams{Purpose: PurposeEncryption})
	rotated, err := v.RotateKey(ctx, meta.KeyID)
	if err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	if rotated.KeyID == meta.KeyID {
		t.Fatalf("expected a new key id from rotation")
	}

	old, err := v.GetKeyMetadata(ctx, meta.KeyID)
	if err != nil {
		t.Fatalf("GetKeyMetadata: %v", err)
	}
	if old.SupersededBy != rotated.KeyID {
		t.Fatalf("expected old key to record supersededBy, got %q", old.SupersededBy)
	}
}
