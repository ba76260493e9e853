// Package session implements the Signing Session Engine described in §4.2:
// per-signer capability tokens, ordering and threshold enforcement, and the
// distribution/view/initial/signature/rejection state machine that the
// signing gateway drives.
package session

import (
	"time"

	"github.com/doc-sovereign/engine/internal/signature"
)

// Ordering governs whether signers must sign in list order.
type Ordering string

const (
	OrderingStrict Ordering = "strict"
	OrderingAny    Ordering = "any"
)

// Status is the lifecycle of a signing session.
type Status string

const (
	StatusCreated      Status = "created"
	StatusDistributed  Status = "distributed"
	StatusPending      Status = "pending"
	StatusPartial      Status = "partial"
	StatusThresholdMet Status = "threshold-met"
	StatusCompleted    Status = "completed"
	StatusExpired      Status = "expired"
	StatusCancelled    Status = "cancelled"
)

// SignerStatus is the lifecycle of an individual signer within a session.
type SignerStatus string

const (
	SignerPending   SignerStatus = "pending"
	SignerViewed    SignerStatus = "viewed"
	SignerInitialed SignerStatus = "initialed"
	SignerSigned    SignerStatus = "signed"
	SignerRejected  SignerStatus = "rejected"
	SignerExpired   SignerStatus = "expired"
)

var signerStatusOrder = map[SignerStatus]int{
	SignerPending:   0,
	SignerViewed:    1,
	SignerInitialed: 2,
}

// DistributionEntry is one record in a signer's distribution log.
type DistributionEntry struct {
	Channel   string    `json:"channel"`
	Address   string    `json:"address,omitempty"`
	SentAt    time.Time `json:"sentAt"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
}

// Signer is one party within a session.
type Signer struct {
	SignerID            string                 `json:"signerId"`
	Name                string                 `json:"name"`
	Email               string                 `json:"email"`
	Phone               string                 `json:"phone,omitempty"`
	Telegram            string                 `json:"telegram,omitempty"`
	Wallet              string                 `json:"wallet,omitempty"`
	Organization        string                 `json:"organization,omitempty"`
	Role                string                 `json:"role,omitempty"`
	Type                signature.SignatureType `json:"type"`
	Required            bool                   `json:"required"`
	PreferredChannels   []string               `json:"preferredChannels,omitempty"`
	AccessToken         string                 `json:"accessToken"`
	TokenExpiry         time.Time              `json:"tokenExpiry"`
	Status              SignerStatus           `json:"status"`
	RequiredInitials    []string               `json:"requiredInitials,omitempty"`
	CompletedInitials   []string               `json:"completedInitials,omitempty"`
	SignedAt            *time.Time             `json:"signedAt,omitempty"`
	SignatureHash       string                 `json:"signatureHash,omitempty"`
	RejectedAt          *time.Time             `json:"rejectedAt,omitempty"`
	RejectionReason     string                 `json:"rejectionReason,omitempty"`
	DistributionLog     []DistributionEntry    `json:"distributionLog,omitempty"`
	ViewCount           int                    `json:"viewCount"`
	LastViewedAt        *time.Time             `json:"lastViewedAt,omitempty"`
}

// Artifacts are the final references attached on completion.
type Artifacts struct {
	FinalPDFPath    string `json:"finalPdfPath,omitempty"`
	CertificateHash string `json:"certificateHash,omitempty"`
	AuditReport     string `json:"auditReport,omitempty"`
	CID             string `json:"cid,omitempty"`
	LedgerTx        string `json:"ledgerTx,omitempty"`
	MerkleProof     string `json:"merkleProof,omitempty"`
}

// Config is the set of knobs a session is created with.
type Config struct {
	Threshold         int       `json:"threshold"`
	RequireAll        bool      `json:"requireAll"`
	Ordering          Ordering  `json:"ordering"`
	ExpiresAt         time.Time `json:"expiresAt"`
	RequireIntent     bool      `json:"requireIntent"`
	RequireOTP        bool      `json:"requireOtp"`
	BaseURL           string    `json:"baseUrl,omitempty"`
	RequiredInitials  []string  `json:"requiredInitials,omitempty"`
	AutoAnchor        bool      `json:"autoAnchor"`
	AutoFinalize      bool      `json:"autoFinalize"`
	AutoNotify        bool      `json:"autoNotify"`
}

// Session is a distribution request binding a document hash to a set of
// per-signer capability tokens.
type Session struct {
	SessionID       string    `json:"sessionId"`
	DocumentID      string    `json:"documentId"`
	DocumentHash    string    `json:"documentHash"`
	SKU             string    `json:"sku,omitempty"`
	Creator         string    `json:"creator"`
	Signers         []Signer  `json:"signers"`
	Config          Config    `json:"config"`
	Status          Status    `json:"status"`
	SignatureCount  int       `json:"signatureCount"`
	ThresholdMet    bool      `json:"thresholdMet"`
	Artifacts       *Artifacts `json:"artifacts,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	SelfHash        string    `json:"selfHash"`
}

// CreateParams is the input to CreateSession.
type CreateParams struct {
	DocumentID       string
	DocumentHash     string
	SKU              string
	Creator          string
	Signers          []NewSigner
	Threshold        int
	RequireAll       bool
	Ordering         Ordering
	ExpiresAt        time.Time
	RequireIntent    bool
	RequireOTP       bool
	BaseURL          string
	RequiredInitials []string
	AutoAnchor       bool
	AutoFinalize     bool
	AutoNotify       bool
}

// NewSigner is the input shape for one signer at session-creation time.
type NewSigner struct {
	Name              string
	Email             string
	Phone             string
	Telegram          string
	Wallet            string
	Organization      string
	Role              string
	Type              signature.SignatureType
	Required          bool
	PreferredChannels []string
	RequiredInitials  []string
}
