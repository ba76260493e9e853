// Package signature implements the one canonical signature-construction
// formula (§4.14) shared by the signing gateway, the multi-sig engine, and
// the sovereign portal. Every signing path in this engine funnels through
// Construct so that a signature produced via a session URL and one produced
// via the portal's bearer-token API are bit-identical in shape.
//
// The source material this engine was distilled from conflated two distinct
// signature-hash derivations — one folding in merkleRoot, one not. This
// package picks the explicit formula below and applies it everywhere; the
// discrepancy is noted in DESIGN.md, not silently resolved per-caller.
package signature

import (
	"time"

	"github.com/doc-sovereign/engine/internal/canon"
)

// SignatureType enumerates the role a signature plays in the document's
// lifecycle, independent of the signer's organizational role.
type SignatureType string

const (
	TypeAuthor       SignatureType = "author"
	TypeApprover     SignatureType = "approver"
	TypeWitness      SignatureType = "witness"
	TypeNotary       SignatureType = "notary"
	TypeCounterparty SignatureType = "counterparty"
	TypeReviewer     SignatureType = "reviewer"
	TypeCertifier    SignatureType = "certifier"
)

// Identity is the minimal set of signer-identifying fields needed to
// construct a signature payload.
type Identity struct {
	Name  string
	Email string
	Role  string
	Type  SignatureType
}

// Input gathers everything Construct needs.
type Input struct {
	SignatureID         string
	Identity            Identity
	DocumentHash         string // the document hash as of this signature
	CurrentDocumentHash  string // the chain's running hash before this signature (for combinedHash)
	MerkleRoot           string
	SignedAt             time.Time
	DeviceFingerprint    string
	PreviousSignatureHash string // empty for the first signature in a chain
}

// Result is the output of Construct: the three hashes every downstream
// consumer (session signer record, workflow signature object, certificate
// export) stores.
type Result struct {
	SignatureHash          string
	CombinedHash           string
	PreviousSignatureHash  string
}

// Construct builds the deterministic signature payload described in §4.14:
//
//	payload  = signatureId:name:email:role:type:documentHash:merkleRoot:signedAt:deviceFingerprint
//	sigHash  = SHA-256(payload)
//	combined = SHA-256(currentDocumentHash || sigHash)
//	prevHash = input.PreviousSignatureHash, or SHA-256("genesis") if this is the first signature
func Construct(in Input) Result {
	payload := canon.Join(
		in.SignatureID,
		in.Identity.Name,
		in.Identity.Email,
		in.Identity.Role,
		string(in.Identity.Type),
		in.DocumentHash,
		in.MerkleRoot,
		in.SignedAt.UTC().Format(time.RFC3339Nano),
		in.DeviceFingerprint,
	)
	sigHash := canon.Sum256Hex([]byte(payload))
	combined := canon.Sum256Hex([]byte(in.CurrentDocumentHash + sigHash))

	prev := in.PreviousSignatureHash
	if prev == "" {
		prev = canon.GenesisHash()
	}

	return Result{
		SignatureHash:         sigHash,
		CombinedHash:          combined,
		PreviousSignatureHash: prev,
	}
}
