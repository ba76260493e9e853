package ledger

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/veraison/go-cose"
)

// sealer produces a detached COSE_Sign1 envelope over an anchor memo. The
// signing key is an ephemeral process-lifetime ECDSA P-256 keypair — the
// seal is a tamper-evidence wrapper around the memo bytes that travels
// alongside the anchor record, not a durable identity claim, so it does not
// need to survive a restart the way the key-provider-managed keys do.
//
// This mirrors the COSE_Sign1 construction the teacher's root signer builds
// over its MMR state (see massifs/rootsigner.go), minus the private
// CWT/receipts wrapper that package layers on top — here the payload is the
// anchor memo itself.
type sealer struct {
	key    *ecdsa.PrivateKey
	signer cose.Signer
}

func newSealer() (*sealer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ledger: generate seal key: %w", err)
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("ledger: new cose signer: %w", err)
	}
	return &sealer{key: key, signer: signer}, nil
}

// Seal signs memoBytes as the payload of a COSE_Sign1 message and returns
// the CBOR-encoded message, hex-encoded for embedding in an anchor record.
func (s *sealer) Seal(memoBytes []byte) (string, error) {
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = memoBytes

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return "", fmt.Errorf("ledger: cose sign: %w", err)
	}
	encoded, err := msg.MarshalCBOR()
	if err != nil {
		return "", fmt.Errorf("ledger: marshal cose message: %w", err)
	}
	return hex.EncodeToString(encoded), nil
}

// Verify checks a hex-encoded COSE_Sign1 message against memoBytes and this
// sealer's public key.
func (s *sealer) Verify(memoBytes []byte, sealHex string) (bool, error) {
	raw, err := hex.DecodeString(sealHex)
	if err != nil {
		return false, fmt.Errorf("ledger: decode cose seal: %w", err)
	}
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return false, fmt.Errorf("ledger: unmarshal cose seal: %w", err)
	}
	if string(msg.Payload) != string(memoBytes) {
		return false, nil
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, &s.key.PublicKey)
	if err != nil {
		return false, fmt.Errorf("ledger: new cose verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return false, nil
	}
	return true, nil
}
