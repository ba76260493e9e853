package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/store"
)

var (
	ErrNotFound           = errors.New("session: not found")
	ErrSignerNotFound     = errors.New("session: signer not found")
	ErrSignerTerminal     = errors.New("session: signer already in a terminal state")
	ErrSectionNotRequired  = errors.New("session: section not in requiredInitials")
	ErrSectionAlready     = errors.New("session: section already initialed")
	ErrInitialsIncomplete = errors.New("session: required initials incomplete")
	ErrStrictOrdering     = errors.New("session: strict ordering violation")
	ErrNotThresholdMet    = errors.New("session: threshold not met")
	ErrTokenExpired       = errors.New("session: token expired")
)

type sessionDocument struct {
	Engine   string    `json:"engine"`
	Version  int       `json:"version"`
	Sessions []Session `json:"sessions"`
}

func freshSessionDocument() sessionDocument {
	return sessionDocument{Engine: "doc-sovereign-engine-sessions", Version: 1, Sessions: []Session{}}
}

// Engine owns signing sessions.
type Engine struct {
	store *store.Store[sessionDocument]
}

// Open loads (or creates) the session store at path.
func Open(path string) (*Engine, error) {
	s, err := store.Open(path, freshSessionDocument)
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}
	return &Engine{store: s}, nil
}

func randomHexToken(nbytes int) (string, error) {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateSession generates a 128-bit session id and a 256-bit access token
// per signer, deriving each token's expiry from the session's expiry.
func (e *Engine) CreateSession(p CreateParams) (Session, error) {
	sessionIDBytes, err := randomHexToken(16)
	if err != nil {
		return Session{}, fmt.Errorf("session: generate session id: %w", err)
	}

	signers := make([]Signer, 0, len(p.Signers))
	for _, ns := range p.Signers {
		token, err := randomHexToken(32)
		if err != nil {
			return Session{}, fmt.Errorf("session: generate access token: %w", err)
		}
		signers = append(signers, Signer{
			SignerID:          uuid.NewString(),
			Name:              ns.Name,
			Email:             ns.Email,
			Phone:             ns.Phone,
			Telegram:          ns.Telegram,
			Wallet:            ns.Wallet,
			Organization:      ns.Organization,
			Role:              ns.Role,
			Type:              ns.Type,
			Required:          ns.Required,
			PreferredChannels: ns.PreferredChannels,
			AccessToken:       token,
			TokenExpiry:       p.ExpiresAt,
			Status:            SignerPending,
			RequiredInitials:  ns.RequiredInitials,
		})
	}

	sess := Session{
		SessionID:    sessionIDBytes,
		DocumentID:   p.DocumentID,
		DocumentHash: p.DocumentHash,
		SKU:          p.SKU,
		Creator:      p.Creator,
		Signers:      signers,
		Config: Config{
			Threshold:        p.Threshold,
			RequireAll:       p.RequireAll,
			Ordering:         p.Ordering,
			ExpiresAt:        p.ExpiresAt,
			RequireIntent:    p.RequireIntent,
			RequireOTP:       p.RequireOTP,
			BaseURL:          p.BaseURL,
			RequiredInitials: p.RequiredInitials,
			AutoAnchor:       p.AutoAnchor,
			AutoFinalize:     p.AutoFinalize,
			AutoNotify:       p.AutoNotify,
		},
		Status:    StatusCreated,
		CreatedAt: time.Now().UTC(),
	}
	sess.SelfHash = computeSelfHash(sess)

	err = e.store.Update(func(doc *sessionDocument) error {
		doc.Sessions = append(doc.Sessions, sess)
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func computeSelfHash(s Session) string {
	parts := []string{s.SessionID, s.DocumentID, s.DocumentHash, string(s.Status), canon.Int(s.SignatureCount)}
	for _, sig := range s.Signers {
		sigHash := "none"
		if sig.SignatureHash != "" {
			sigHash = sig.SignatureHash
		}
		parts = append(parts, canon.Join(sig.Email, string(sig.Status), sigHash))
	}
	return canon.JoinHash(parts...)
}

func requiredSignerCount(s Session) int {
	n := 0
	for _, sig := range s.Signers {
		if sig.Required {
			n++
		}
	}
	return n
}

func effectiveThreshold(s Session) int {
	if s.Config.RequireAll {
		return requiredSignerCount(s)
	}
	return s.Config.Threshold
}

func signedRequiredCount(s Session) int {
	n := 0
	for _, sig := range s.Signers {
		if sig.Required && sig.Status == SignerSigned {
			n++
		}
	}
	return n
}

func indexOfSession(sessions []Session, id string) int {
	for i, s := range sessions {
		if s.SessionID == id {
			return i
		}
	}
	return -1
}

func indexOfSigner(signers []Signer, signerID string) int {
	for i, s := range signers {
		if s.SignerID == signerID {
			return i
		}
	}
	return -1
}

func isTerminal(s SignerStatus) bool {
	return s == SignerSigned || s == SignerRejected || s == SignerExpired
}

// ResolveToken performs a linear scan over live (non-expired, non-cancelled)
// sessions for the signer holding token. If the token's expiry has elapsed,
// the signer is marked expired and (Session{}, Signer{}, false) is returned.
func (e *Engine) ResolveToken(token string) (Session, Signer, bool, error) {
	var outSess Session
	var outSigner Signer
	found := false

	err := e.store.Update(func(doc *sessionDocument) error {
		now := time.Now().UTC()
		for si := range doc.Sessions {
			sess := &doc.Sessions[si]
			if sess.Status == StatusCancelled || sess.Status == StatusExpired {
				continue
			}
			for gi := range sess.Signers {
				signer := &sess.Signers[gi]
				if signer.AccessToken != token {
					continue
				}
				if now.After(signer.TokenExpiry) {
					if !isTerminal(signer.Status) {
						signer.Status = SignerExpired
						sess.SelfHash = computeSelfHash(*sess)
					}
					return nil
				}
				outSess, outSigner, found = *sess, *signer, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return Session{}, Signer{}, false, err
	}
	return outSess, outSigner, found, nil
}

// RecordView increments viewCount, sets lastViewedAt, and lifts the signer's
// status from pending to viewed.
func (e *Engine) RecordView(sessionID, signerID string) (Signer, error) {
	return e.mutateSigner(sessionID, signerID, func(sess *Session, signer *Signer) error {
		now := time.Now().UTC()
		signer.ViewCount++
		signer.LastViewedAt = &now
		if signer.Status == SignerPending {
			signer.Status = SignerViewed
		}
		return nil
	})
}

// RecordInitial adds sectionId to a signer's completedInitials.
func (e *Engine) RecordInitial(sessionID, signerID, sectionID string) (Signer, error) {
	return e.mutateSigner(sessionID, signerID, func(sess *Session, signer *Signer) error {
		if isTerminal(signer.Status) {
			return ErrSignerTerminal
		}
		if !contains(signer.RequiredInitials, sectionID) {
			return ErrSectionNotRequired
		}
		if contains(signer.CompletedInitials, sectionID) {
			return ErrSectionAlready
		}
		signer.CompletedInitials = append(signer.CompletedInitials, sectionID)
		if signerStatusOrder[signer.Status] <= signerStatusOrder[SignerViewed] {
			signer.Status = SignerInitialed
		}
		return nil
	})
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func subsetOf(a, b []string) bool {
	for _, item := range a {
		if !contains(b, item) {
			return false
		}
	}
	return true
}

// RecordSignature validates ordering and initials completeness, then marks
// the signer signed and recomputes the session's threshold/status.
func (e *Engine) RecordSignature(sessionID, signerID, signatureHash string) (Session, error) {
	var outSess Session
	err := e.store.Update(func(doc *sessionDocument) error {
		si := indexOfSession(doc.Sessions, sessionID)
		if si < 0 {
			return ErrNotFound
		}
		sess := &doc.Sessions[si]
		gi := indexOfSigner(sess.Signers, signerID)
		if gi < 0 {
			return ErrSignerNotFound
		}
		signer := &sess.Signers[gi]

		if isTerminal(signer.Status) {
			return ErrSignerTerminal
		}
		if !subsetOf(signer.RequiredInitials, signer.CompletedInitials) {
			return ErrInitialsIncomplete
		}
		if sess.Config.Ordering == OrderingStrict {
			for i := 0; i < gi; i++ {
				prior := sess.Signers[i]
				if prior.Required && prior.Status != SignerSigned {
					return fmt.Errorf("%w: %s must sign first", ErrStrictOrdering, prior.Name)
				}
			}
		}

		now := time.Now().UTC()
		signer.Status = SignerSigned
		signer.SignedAt = &now
		signer.SignatureHash = signatureHash
		sess.SignatureCount++

		met := signedRequiredCount(*sess) >= effectiveThreshold(*sess)
		sess.ThresholdMet = met
		switch {
		case met:
			sess.Status = StatusThresholdMet
		case sess.SignatureCount > 0:
			sess.Status = StatusPartial
		default:
			sess.Status = StatusPending
		}

		sess.SelfHash = computeSelfHash(*sess)
		outSess = *sess
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return outSess, nil
}

// RecordRejection marks a signer rejected. If the rejecting signer is
// required and the remaining achievable signatures can no longer meet
// threshold, the session transitions to cancelled.
func (e *Engine) RecordRejection(sessionID, signerID, reason string) (Session, error) {
	var outSess Session
	err := e.store.Update(func(doc *sessionDocument) error {
		si := indexOfSession(doc.Sessions, sessionID)
		if si < 0 {
			return ErrNotFound
		}
		sess := &doc.Sessions[si]
		gi := indexOfSigner(sess.Signers, signerID)
		if gi < 0 {
			return ErrSignerNotFound
		}
		signer := &sess.Signers[gi]
		if isTerminal(signer.Status) {
			return ErrSignerTerminal
		}

		now := time.Now().UTC()
		signer.Status = SignerRejected
		signer.RejectedAt = &now
		signer.RejectionReason = reason

		if signer.Required {
			remainingAchievable := 0
			for _, s := range sess.Signers {
				if s.Required && s.Status != SignerRejected && s.Status != SignerExpired {
					remainingAchievable++
				}
			}
			if remainingAchievable < effectiveThreshold(*sess) {
				sess.Status = StatusCancelled
			}
		}

		sess.SelfHash = computeSelfHash(*sess)
		outSess = *sess
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return outSess, nil
}

// CompleteSession marks the session completed and stores artifact
// references. Only allowed once thresholdMet.
func (e *Engine) CompleteSession(sessionID string, artifacts Artifacts) (Session, error) {
	var outSess Session
	err := e.store.Update(func(doc *sessionDocument) error {
		si := indexOfSession(doc.Sessions, sessionID)
		if si < 0 {
			return ErrNotFound
		}
		sess := &doc.Sessions[si]
		if !sess.ThresholdMet {
			return ErrNotThresholdMet
		}
		sess.Status = StatusCompleted
		sess.Artifacts = &artifacts
		sess.SelfHash = computeSelfHash(*sess)
		outSess = *sess
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return outSess, nil
}

// RecordDistribution appends to a signer's distribution log, lifting the
// session from created to distributed.
func (e *Engine) RecordDistribution(sessionID, signerID string, entry DistributionEntry) (Signer, error) {
	return e.mutateSigner(sessionID, signerID, func(sess *Session, signer *Signer) error {
		signer.DistributionLog = append(signer.DistributionLog, entry)
		if sess.Status == StatusCreated {
			sess.Status = StatusDistributed
		}
		return nil
	})
}

func (e *Engine) mutateSigner(sessionID, signerID string, fn func(sess *Session, signer *Signer) error) (Signer, error) {
	var outSigner Signer
	err := e.store.Update(func(doc *sessionDocument) error {
		si := indexOfSession(doc.Sessions, sessionID)
		if si < 0 {
			return ErrNotFound
		}
		sess := &doc.Sessions[si]
		gi := indexOfSigner(sess.Signers, signerID)
		if gi < 0 {
			return ErrSignerNotFound
		}
		signer := &sess.Signers[gi]
		if err := fn(sess, signer); err != nil {
			return err
		}
		sess.SelfHash = computeSelfHash(*sess)
		outSigner = *signer
		return nil
	})
	if err != nil {
		return Signer{}, err
	}
	return outSigner, nil
}

// ExpireStale marks all past-deadline non-terminal sessions, and their
// non-terminal signers, expired. Returns the number of sessions expired.
func (e *Engine) ExpireStale() (int, error) {
	count := 0
	err := e.store.Update(func(doc *sessionDocument) error {
		now := time.Now().UTC()
		for i := range doc.Sessions {
			sess := &doc.Sessions[i]
			if sess.Status == StatusCompleted || sess.Status == StatusCancelled || sess.Status == StatusExpired {
				continue
			}
			if now.Before(sess.Config.ExpiresAt) {
				continue
			}
			sess.Status = StatusExpired
			for j := range sess.Signers {
				if !isTerminal(sess.Signers[j].Status) {
					sess.Signers[j].Status = SignerExpired
				}
			}
			sess.SelfHash = computeSelfHash(*sess)
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetSession returns the session by id.
func (e *Engine) GetSession(sessionID string) (Session, error) {
	var out Session
	found := false
	e.store.View(func(doc *sessionDocument) {
		for _, s := range doc.Sessions {
			if s.SessionID == sessionID {
				out, found = s, true
				return
			}
		}
	})
	if !found {
		return Session{}, ErrNotFound
	}
	return out, nil
}
