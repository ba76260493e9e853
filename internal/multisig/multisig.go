// Package multisig implements the Multi-Sig Workflow Engine described in
// §4.3: a threshold signature collection around a document, independent of
// the per-signer URL UX the session engine provides.
package multisig

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/merkle"
	"github.com/doc-sovereign/engine/internal/signature"
	"github.com/doc-sovereign/engine/internal/store"
)

// Ordering governs whether counterparties must sign in list order.
type Ordering string

const (
	OrderingStrict Ordering = "strict"
	OrderingAny    Ordering = "any"
)

// Status is the lifecycle of a multi-sig workflow.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusPending       Status = "pending"
	StatusPartial       Status = "partial"
	StatusThresholdMet  Status = "threshold-met"
	StatusFinalized     Status = "finalized"
	StatusExpired       Status = "expired"
	StatusRejected      Status = "rejected"
	StatusCancelled     Status = "cancelled"
)

var terminalStatuses = map[Status]bool{
	StatusFinalized: true,
	StatusExpired:   true,
	StatusRejected:  true,
	StatusCancelled: true,
}

// Signature is one counterparty's executed signature object.
type Signature struct {
	SignatureID           string                  `json:"signatureId"`
	Name                  string                  `json:"name"`
	Email                 string                  `json:"email"`
	Role                  string                  `json:"role,omitempty"`
	Type                  signature.SignatureType `json:"type"`
	SignedAt              time.Time               `json:"signedAt"`
	DocumentHash          string                  `json:"documentHash"`
	SignatureHash         string                  `json:"signatureHash"`
	CombinedHash          string                  `json:"combinedHash"`
	PreviousSignatureHash string                  `json:"previousSignatureHash"`
	Sequence              int                     `json:"sequence"`
	Status                string                  `json:"status"`
	DeviceFingerprint     string                  `json:"deviceFingerprint,omitempty"`
	Platform              string                  `json:"platform,omitempty"`
}

// Counterparty is one invited party within a workflow.
type Counterparty struct {
	Email      string     `json:"email"`
	Name       string      `json:"name"`
	Role       string      `json:"role,omitempty"`
	Type       signature.SignatureType `json:"type"`
	Required   bool        `json:"required"`
	Signed     bool        `json:"signed"`
	Rejected   bool        `json:"rejected"`
	RejectedAt *time.Time  `json:"rejectedAt,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	InvitedAt  time.Time   `json:"invitedAt"`
}

// Workflow is a threshold signature collection around a document.
type Workflow struct {
	WorkflowID       string                  `json:"workflowId"`
	DocumentID       string                  `json:"documentId"`
	DocumentHash     string                  `json:"documentHash"`
	SKU              string                  `json:"sku,omitempty"`
	Threshold        int                     `json:"threshold"`
	RequireAll       bool                    `json:"requireAll"`
	Ordering         Ordering                `json:"ordering"`
	Deadline         *time.Time              `json:"deadline,omitempty"`
	Initiator        string                  `json:"initiator"`
	Counterparties   []Counterparty          `json:"counterparties"`
	Signatures       map[string]Signature    `json:"signatures"`
	SignatureCount   int                     `json:"signatureCount"`
	MerkleRoot       string                  `json:"merkleRoot,omitempty"`
	Status           Status                  `json:"status"`
	LastActivityAt   time.Time               `json:"lastActivityAt"`
	FinalizedAt      *time.Time              `json:"finalizedAt,omitempty"`
	SelfHash         string                  `json:"selfHash"`
}

type multisigDocument struct {
	Engine    string     `json:"engine"`
	Version   int        `json:"version"`
	Workflows []Workflow `json:"workflows"`
}

func freshMultisigDocument() multisigDocument {
	return multisigDocument{Engine: "doc-sovereign-engine-multisig", Version: 1, Workflows: []Workflow{}}
}

var (
	ErrNotFound          = errors.New("multisig: workflow not found")
	ErrInvalidThreshold  = errors.New("multisig: threshold out of range")
	ErrTerminal          = errors.New("multisig: workflow is in a terminal state")
	ErrDuplicateSigner   = errors.New("multisig: signer already signed this workflow")
	ErrStrictOrdering    = errors.New("multisig: strict ordering violation")
	ErrTimestampRegressed = errors.New("multisig: signature timestamp precedes last activity")
	ErrNotThresholdMet   = errors.New("multisig: threshold not met")
	ErrNotFinalized      = errors.New("multisig: workflow not finalized")
	ErrCounterpartyNotFound = errors.New("multisig: counterparty not found")
)

// Engine owns multi-sig workflows.
type Engine struct {
	store *store.Store[multisigDocument]
}

// Open loads (or creates) the multisig store at path.
func Open(path string) (*Engine, error) {
	s, err := store.Open(path, freshMultisigDocument)
	if err != nil {
		return nil, fmt.Errorf("multisig: open: %w", err)
	}
	return &Engine{store: s}, nil
}

// CreateParams is the input to CreateWorkflow.
type CreateParams struct {
	DocumentID         string
	DocumentHash       string
	SKU                string
	Initiator          string
	RequiredSignatures int
	Counterparties     []NewCounterparty
	Ordering           Ordering
	Deadline           *time.Time
	RequireAll         bool
}

// NewCounterparty is the input shape for one counterparty.
type NewCounterparty struct {
	Email    string
	Name     string
	Role     string
	Type     signature.SignatureType
	Required bool
}

// CreateWorkflow creates a new threshold collection around a document.
func (e *Engine) CreateWorkflow(p CreateParams) (Workflow, error) {
	total := len(p.Counterparties)
	if p.RequiredSignatures > total || p.RequiredSignatures < 1 {
		return Workflow{}, fmt.Errorf("%w: threshold %d against %d possible signers", ErrInvalidThreshold, p.RequiredSignatures, total)
	}

	now := time.Now().UTC()
	cps := make([]Counterparty, 0, total)
	for _, c := range p.Counterparties {
		cps = append(cps, Counterparty{
			Email:     c.Email,
			Name:      c.Name,
			Role:      c.Role,
			Type:      c.Type,
			Required:  c.Required,
			InvitedAt: now,
		})
	}

	wf := Workflow{
		WorkflowID:     uuid.NewString(),
		DocumentID:     p.DocumentID,
		DocumentHash:   p.DocumentHash,
		SKU:            p.SKU,
		Threshold:      p.RequiredSignatures,
		RequireAll:     p.RequireAll,
		Ordering:       p.Ordering,
		Deadline:       p.Deadline,
		Initiator:      p.Initiator,
		Counterparties: cps,
		Signatures:     map[string]Signature{},
		Status:         StatusDraft,
		LastActivityAt: now,
	}
	wf.SelfHash = computeSelfHash(wf)

	err := e.store.Update(func(doc *multisigDocument) error {
		doc.Workflows = append(doc.Workflows, wf)
		return nil
	})
	if err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

func computeSelfHash(wf Workflow) string {
	entries := make([]string, 0, len(wf.Signatures))
	for _, sig := range wf.Signatures {
		entries = append(entries, canon.Join(sig.Email, sig.SignatureHash, sig.SignedAt.UTC().Format(time.RFC3339Nano)))
	}
	sort.Strings(entries)

	parts := []string{wf.WorkflowID, wf.DocumentID, wf.DocumentHash, canon.Int(wf.Threshold), canon.Int(wf.SignatureCount)}
	parts = append(parts, entries...)
	parts = append(parts, string(wf.Status))
	return canon.JoinHash(parts...)
}

func indexOfWorkflow(workflows []Workflow, id string) int {
	for i, w := range workflows {
		if w.WorkflowID == id {
			return i
		}
	}
	return -1
}

func requiredCount(wf Workflow) int {
	n := 0
	for _, c := range wf.Counterparties {
		if c.Required {
			n++
		}
	}
	return n
}

func effectiveThreshold(wf Workflow) int {
	if wf.RequireAll {
		return requiredCount(wf)
	}
	return wf.Threshold
}

func signedRequiredCount(wf Workflow) int {
	n := 0
	for _, c := range wf.Counterparties {
		if c.Required && c.Signed {
			n++
		}
	}
	return n
}

// signatureMerkleRoot folds every collected signature's signatureHash, in
// signing order, into a Merkle Mountain Range and returns the bagged root,
// hex-encoded. This is the workflow's own commitment to its signature set,
// independent of the per-signature combinedHash chain.
func signatureMerkleRoot(wf Workflow) string {
	if len(wf.Signatures) == 0 {
		return ""
	}
	ordered := make([]Signature, 0, len(wf.Signatures))
	for _, sig := range wf.Signatures {
		ordered = append(ordered, sig)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	leaves := make([][]byte, 0, len(ordered))
	for _, sig := range ordered {
		if b, err := hex.DecodeString(sig.SignatureHash); err == nil {
			leaves = append(leaves, b)
		} else {
			leaves = append(leaves, []byte(sig.SignatureHash))
		}
	}
	root, err := merkle.RootOf(leaves)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(root)
}

func firstUnsignedRequiredIndex(wf Workflow) int {
	for i, c := range wf.Counterparties {
		if c.Required && !c.Signed && !c.Rejected {
			return i
		}
	}
	return -1
}

// AddSignatureParams is the input to AddSignature.
type AddSignatureParams struct {
	Email             string
	Name              string
	Role              string
	Type              signature.SignatureType
	DocumentHash      string
	MerkleRoot        string
	SignedAt          time.Time
	DeviceFingerprint string
	Platform          string
}

// AddSignature validates ordering, timestamp monotonicity, and duplicate
// submission, then records the counterparty's signature and recomputes
// workflow status.
func (e *Engine) AddSignature(workflowID string, p AddSignatureParams) (Workflow, error) {
	var outWF Workflow
	err := e.store.Update(func(doc *multisigDocument) error {
		wi := indexOfWorkflow(doc.Workflows, workflowID)
		if wi < 0 {
			return ErrNotFound
		}
		wf := &doc.Workflows[wi]

		if wf.Deadline != nil && time.Now().UTC().After(*wf.Deadline) && !terminalStatuses[wf.Status] {
			wf.Status = StatusExpired
			wf.SelfHash = computeSelfHash(*wf)
			return ErrTerminal
		}
		if terminalStatuses[wf.Status] {
			return ErrTerminal
		}
		if _, exists := wf.Signatures[p.Email]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateSigner, p.Email)
		}
		if p.SignedAt.Before(wf.LastActivityAt) {
			return ErrTimestampRegressed
		}

		ci := -1
		for i, c := range wf.Counterparties {
			if c.Email == p.Email {
				ci = i
				break
			}
		}
		if ci < 0 {
			return ErrCounterpartyNotFound
		}

		if wf.Ordering == OrderingStrict {
			first := firstUnsignedRequiredIndex(*wf)
			if wf.Counterparties[ci].Required && first != ci {
				return fmt.Errorf("%w: %s is not the next required signer", ErrStrictOrdering, p.Email)
			}
		}

		prevCombined := canon.GenesisHash()
		prevSignatureHash := ""
		seq := len(wf.Signatures) + 1
		for _, sig := range wf.Signatures {
			if sig.Sequence == seq-1 {
				prevCombined = sig.CombinedHash
				prevSignatureHash = sig.SignatureHash
			}
		}

		constructed := signature.Construct(signature.Input{
			SignatureID:           uuid.NewString(),
			Identity:              signature.Identity{Name: p.Name, Email: p.Email, Role: p.Role, Type: p.Type},
			DocumentHash:          p.DocumentHash,
			CurrentDocumentHash:   prevCombined,
			MerkleRoot:            p.MerkleRoot,
			SignedAt:              p.SignedAt,
			DeviceFingerprint:     p.DeviceFingerprint,
			PreviousSignatureHash: prevSignatureHash,
		})

		sig := Signature{
			SignatureID:           uuid.NewString(),
			Name:                  p.Name,
			Email:                 p.Email,
			Role:                  p.Role,
			Type:                  p.Type,
			SignedAt:              p.SignedAt,
			DocumentHash:          p.DocumentHash,
			SignatureHash:         constructed.SignatureHash,
			CombinedHash:          constructed.CombinedHash,
			PreviousSignatureHash: constructed.PreviousSignatureHash,
			Sequence:              seq,
			Status:                "signed",
			DeviceFingerprint:     p.DeviceFingerprint,
			Platform:              p.Platform,
		}
		wf.Signatures[p.Email] = sig
		wf.Counterparties[ci].Signed = true
		wf.SignatureCount++
		wf.LastActivityAt = p.SignedAt
		wf.MerkleRoot = signatureMerkleRoot(*wf)

		met := signedRequiredCount(*wf) >= effectiveThreshold(*wf)
		switch {
		case met && wf.RequireAll && signedRequiredCount(*wf) == requiredCount(*wf):
			wf.Status = StatusFinalized
			finalizedAt := time.Now().UTC()
			wf.FinalizedAt = &finalizedAt
		case met:
			wf.Status = StatusThresholdMet
		case wf.SignatureCount > 0:
			wf.Status = StatusPartial
		default:
			wf.Status = StatusPending
		}

		wf.SelfHash = computeSelfHash(*wf)
		outWF = *wf
		return nil
	})
	if err != nil {
		return Workflow{}, err
	}
	return outWF, nil
}

// RejectSignature marks a counterparty's rejection. If the counterparty is
// required, the workflow transitions to rejected.
func (e *Engine) RejectSignature(workflowID, email, reason string) (Workflow, error) {
	var outWF Workflow
	err := e.store.Update(func(doc *multisigDocument) error {
		wi := indexOfWorkflow(doc.Workflows, workflowID)
		if wi < 0 {
			return ErrNotFound
		}
		wf := &doc.Workflows[wi]
		if terminalStatuses[wf.Status] {
			return ErrTerminal
		}

		ci := -1
		for i, c := range wf.Counterparties {
			if c.Email == email {
				ci = i
				break
			}
		}
		if ci < 0 {
			return ErrCounterpartyNotFound
		}

		now := time.Now().UTC()
		wf.Counterparties[ci].Rejected = true
		wf.Counterparties[ci].RejectedAt = &now
		wf.Counterparties[ci].Reason = reason

		if wf.Counterparties[ci].Required {
			wf.Status = StatusRejected
		}

		wf.SelfHash = computeSelfHash(*wf)
		outWF = *wf
		return nil
	})
	if err != nil {
		return Workflow{}, err
	}
	return outWF, nil
}

// Finalize transitions a threshold-met workflow to finalized. Idempotent if
// already finalized.
func (e *Engine) Finalize(workflowID string) (Workflow, error) {
	var outWF Workflow
	err := e.store.Update(func(doc *multisigDocument) error {
		wi := indexOfWorkflow(doc.Workflows, workflowID)
		if wi < 0 {
			return ErrNotFound
		}
		wf := &doc.Workflows[wi]
		if wf.Status == StatusFinalized {
			outWF = *wf
			return nil
		}
		if wf.Status != StatusThresholdMet {
			return ErrNotThresholdMet
		}
		now := time.Now().UTC()
		wf.Status = StatusFinalized
		wf.FinalizedAt = &now
		wf.SelfHash = computeSelfHash(*wf)
		outWF = *wf
		return nil
	})
	if err != nil {
		return Workflow{}, err
	}
	return outWF, nil
}

// Certificate is the exported proof of a finalized workflow.
type Certificate struct {
	WorkflowID      string             `json:"workflowId"`
	DocumentID      string             `json:"documentId"`
	DocumentHash    string             `json:"documentHash"`
	Signers         []CertificateEntry `json:"signers"`
	Threshold       int                `json:"threshold"`
	FinalizedAt     time.Time          `json:"finalizedAt"`
	CertificateHash string             `json:"certificateHash"`
}

// CertificateEntry is one signer's entry in a certificate, sorted
// deterministically by signedAt.
type CertificateEntry struct {
	Email         string    `json:"email"`
	SignatureHash string    `json:"signatureHash"`
	SignedAt      time.Time `json:"signedAt"`
}

// ExportCertificate builds a certificate for a finalized workflow.
// certificateHash is a deterministic function of (documentId, documentHash,
// signers, threshold, finalizedAt).
func (e *Engine) ExportCertificate(workflowID string) (Certificate, error) {
	wf, err := e.GetWorkflow(workflowID)
	if err != nil {
		return Certificate{}, err
	}
	if wf.Status != StatusFinalized {
		return Certificate{}, ErrNotFinalized
	}
	if wf.FinalizedAt == nil {
		return Certificate{}, fmt.Errorf("multisig: workflow %s is finalized but carries no finalizedAt", wf.WorkflowID)
	}

	entries := make([]CertificateEntry, 0, len(wf.Signatures))
	for _, sig := range wf.Signatures {
		entries = append(entries, CertificateEntry{Email: sig.Email, SignatureHash: sig.SignatureHash, SignedAt: sig.SignedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SignedAt.Before(entries[j].SignedAt) })

	finalizedAt := *wf.FinalizedAt
	parts := []string{wf.DocumentID, wf.DocumentHash}
	for _, e := range entries {
		parts = append(parts, canon.Join(e.Email, e.SignatureHash, e.SignedAt.UTC().Format(time.RFC3339Nano)))
	}
	parts = append(parts, canon.Int(wf.Threshold), finalizedAt.UTC().Format(time.RFC3339Nano))

	return Certificate{
		WorkflowID:      wf.WorkflowID,
		DocumentID:      wf.DocumentID,
		DocumentHash:    wf.DocumentHash,
		Signers:         entries,
		Threshold:       wf.Threshold,
		FinalizedAt:     finalizedAt,
		CertificateHash: canon.JoinHash(parts...),
	}, nil
}

// GetWorkflow returns the workflow by id.
func (e *Engine) GetWorkflow(workflowID string) (Workflow, error) {
	var out Workflow
	found := false
	e.store.View(func(doc *multisigDocument) {
		for _, w := range doc.Workflows {
			if w.WorkflowID == workflowID {
				out, found = w, true
				return
			}
		}
	})
	if !found {
		return Workflow{}, ErrNotFound
	}
	return out, nil
}

// GetWorkflowByDocument returns the most recently created workflow bound to
// docID, which callers addressing a workflow by its document (rather than by
// workflowId) rely on.
func (e *Engine) GetWorkflowByDocument(docID string) (Workflow, error) {
	var out Workflow
	found := false
	e.store.View(func(doc *multisigDocument) {
		for _, w := range doc.Workflows {
			if w.DocumentID == docID {
				out, found = w, true
			}
		}
	})
	if !found {
		return Workflow{}, ErrNotFound
	}
	return out, nil
}
