package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/doc-sovereign/engine/internal/httpx"
	"github.com/doc-sovereign/engine/internal/intent"
	"github.com/doc-sovereign/engine/internal/otp"
	"github.com/doc-sovereign/engine/internal/session"
	"github.com/doc-sovereign/engine/internal/signature"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = dashboardTemplate.Execute(w, struct{ BaseURL string }{s.BaseURL})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": "live",
		"intents":  "live",
	})
}

func (s *Server) renderErrorPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_ = errorPageTemplate.Execute(w, nil)
}

// resolve looks up a signing token, rendering the shared error page (and
// logging nothing) when the token does not resolve; a store error gets a
// JSON 500 instead. Per §4.6, an expired token and an unknown
// token are deliberately indistinguishable to the caller.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (session.Session, session.Signer, bool) {
	token := r.PathValue("token")
	sess, signer, found, err := s.Sessions.ResolveToken(token)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return session.Session{}, session.Signer{}, false
	}
	if !found {
		s.renderErrorPage(w)
		return session.Session{}, session.Signer{}, false
	}
	return sess, signer, true
}

func (s *Server) handleSigningPage(w http.ResponseWriter, r *http.Request) {
	sess, signer, ok := s.resolve(w, r)
	if !ok {
		return
	}

	if _, err := s.Sessions.RecordView(sess.SessionID, signer.SignerID); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := s.Intents.Log(intent.LogParams{
		SessionID: sess.SessionID, DocumentID: sess.DocumentID, SignerID: signer.SignerID,
		SignerEmail: signer.Email, SignerName: signer.Name, Action: intent.ActionDocumentViewed,
		IPAddress: clientIP(r), Device: deviceEvidence(r),
	}); err != nil {
		s.Log.Warn().Err(err).Msg("gateway: log document-viewed intent")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = signingPageTemplate.Execute(w, signingPageData{
		SessionID:         sess.SessionID,
		DocumentID:        sess.DocumentID,
		SignerName:        signer.Name,
		SignerEmail:       signer.Email,
		Status:            string(signer.Status),
		RequiredInitials:  signer.RequiredInitials,
		CompletedInitials: signer.CompletedInitials,
		RequireOTP:        sess.Config.RequireOTP,
		RequireIntent:     sess.Config.RequireIntent,
	})
}

type initialRequest struct {
	SectionID string `json:"sectionId"`
}

func (s *Server) handleInitial(w http.ResponseWriter, r *http.Request) {
	sess, signer, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req initialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if _, err := s.Sessions.RecordInitial(sess.SessionID, signer.SignerID, req.SectionID); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.Intents.Log(intent.LogParams{
		SessionID: sess.SessionID, DocumentID: sess.DocumentID, SignerID: signer.SignerID,
		SignerEmail: signer.Email, SignerName: signer.Name, Action: intent.ActionSectionInitialed,
		IPAddress: clientIP(r), Device: deviceEvidence(r), SectionID: req.SectionID,
	}); err != nil {
		s.Log.Warn().Err(err).Msg("gateway: log section-initialed intent")
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sectionId": req.SectionID})
}

func (s *Server) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	sess, signer, ok := s.resolve(w, r)
	if !ok {
		return
	}

	result, err := s.OTPs.Generate(otp.GenerateParams{
		SessionID: sess.SessionID, SignerID: signer.SignerID, SignerEmail: signer.Email,
		DeliveryChannel: "email", RequestIP: clientIP(r),
	})
	if err != nil {
		if errors.Is(err, otp.ErrRateLimited) {
			httpx.WriteError(w, http.StatusTooManyRequests, "otp requested too recently, try again shortly")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := s.Intents.Log(intent.LogParams{
		SessionID: sess.SessionID, DocumentID: sess.DocumentID, SignerID: signer.SignerID,
		SignerEmail: signer.Email, SignerName: signer.Name, Action: intent.ActionOTPRequested,
		IPAddress: clientIP(r), Device: deviceEvidence(r),
	}); err != nil {
		s.Log.Warn().Err(err).Msg("gateway: log otp-requested intent")
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"expiresAt": result.ExpiresAt, "isRetry": result.IsRetry})
}

type verifyOTPRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	sess, signer, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := s.OTPs.Verify(otp.VerifyParams{SessionID: sess.SessionID, SignerID: signer.SignerID, Code: req.Code})
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	action := intent.ActionOTPVerified
	if !result.Valid {
		action = intent.ActionOTPFailed
	}
	if _, err := s.Intents.Log(intent.LogParams{
		SessionID: sess.SessionID, DocumentID: sess.DocumentID, SignerID: signer.SignerID,
		SignerEmail: signer.Email, SignerName: signer.Name, Action: action,
		IPAddress: clientIP(r), Device: deviceEvidence(r),
	}); err != nil {
		s.Log.Warn().Err(err).Msg("gateway: log otp verification intent")
	}

	if !result.Valid {
		httpx.WriteError(w, http.StatusBadRequest, result.Message)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"remainingAttempts": result.RemainingAttempts})
}

type submitSignatureRequest struct {
	Consent     bool   `json:"consent"`
	ConsentText string `json:"consentText"`
}

// latestSignatureHash returns the signature hash of the most recently
// signed signer in sess, or "" if none have signed yet (Construct treats an
// empty PreviousSignatureHash as the chain's genesis).
func latestSignatureHash(sess session.Session) string {
	var latest *session.Signer
	for i := range sess.Signers {
		sg := &sess.Signers[i]
		if sg.Status != session.SignerSigned || sg.SignedAt == nil {
			continue
		}
		if latest == nil || sg.SignedAt.After(*latest.SignedAt) {
			latest = sg
		}
	}
	if latest == nil {
		return ""
	}
	return latest.SignatureHash
}

func (s *Server) handleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	sess, signer, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req submitSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if sess.Config.RequireIntent && !req.Consent {
		httpx.WriteError(w, http.StatusBadRequest, "consent is required before signing")
		return
	}
	if sess.Config.RequireOTP && !s.OTPs.IsVerified(sess.SessionID, signer.SignerID) {
		httpx.WriteError(w, http.StatusBadRequest, "a verified one-time code is required before signing")
		return
	}

	var merkleRoot string
	if rec, err := s.Lifecycles.GetLifecycle(sess.DocumentID); err == nil {
		merkleRoot = rec.MerkleRoot
	}

	if req.Consent {
		if _, err := s.Intents.Log(intent.LogParams{
			SessionID: sess.SessionID, DocumentID: sess.DocumentID, SignerID: signer.SignerID,
			SignerEmail: signer.Email, SignerName: signer.Name, Action: intent.ActionConsentGiven,
			IPAddress: clientIP(r), Device: deviceEvidence(r),
			Consent: &intent.ConsentEvidence{Text: req.ConsentText, Method: "web-form", Scope: "signature", Timestamp: time.Now().UTC()},
		}); err != nil {
			s.Log.Warn().Err(err).Msg("gateway: log consent-given intent")
		}
	}

	constructed := signature.Construct(signature.Input{
		SignatureID:           uuid.NewString(),
		Identity:              signature.Identity{Name: signer.Name, Email: signer.Email, Role: signer.Role, Type: signer.Type},
		DocumentHash:          sess.DocumentHash,
		CurrentDocumentHash:   sess.DocumentHash,
		MerkleRoot:            merkleRoot,
		SignedAt:              time.Now().UTC(),
		DeviceFingerprint:     r.Header.Get("X-Device-Fingerprint"),
		PreviousSignatureHash: latestSignatureHash(sess),
	})

	updated, err := s.Sessions.RecordSignature(sess.SessionID, signer.SignerID, constructed.SignatureHash)
	if err != nil {
		if errors.Is(err, session.ErrSignerTerminal) {
			httpx.WriteError(w, http.StatusBadRequest, "session complete")
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.Intents.Log(intent.LogParams{
		SessionID: sess.SessionID, DocumentID: sess.DocumentID, SignerID: signer.SignerID,
		SignerEmail: signer.Email, SignerName: signer.Name, Action: intent.ActionSignatureSubmitted,
		IPAddress: clientIP(r), Device: deviceEvidence(r),
		Context: map[string]any{"signatureHash": constructed.SignatureHash},
	}); err != nil {
		s.Log.Warn().Err(err).Msg("gateway: log signature-submitted intent")
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"signatureHash": constructed.SignatureHash,
		"sessionStatus": updated.Status,
		"thresholdMet":  updated.ThresholdMet,
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	httpx.AllowCORS(w)
	sess, err := s.Sessions.GetSession(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "session not found")
		return
	}

	signers := make([]map[string]any, 0, len(sess.Signers))
	for _, sg := range sess.Signers {
		signers = append(signers, map[string]any{
			"name": sg.Name, "email": sg.Email, "role": sg.Role, "status": sg.Status,
			"signedAt": sg.SignedAt, "viewCount": sg.ViewCount,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"sessionId":      sess.SessionID,
		"status":         sess.Status,
		"signatureCount": sess.SignatureCount,
		"threshold":      sess.Config.Threshold,
		"thresholdMet":   sess.ThresholdMet,
		"signers":        signers,
		"artifacts":      sess.Artifacts,
	})
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := s.Sessions.GetSession(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.Intents.GenerateEvidenceReport(sessionID))
}

type newSignerRequest struct {
	Name              string   `json:"name"`
	Email             string   `json:"email"`
	Phone             string   `json:"phone,omitempty"`
	Telegram          string   `json:"telegram,omitempty"`
	Wallet            string   `json:"wallet,omitempty"`
	Organization      string   `json:"organization,omitempty"`
	Role              string   `json:"role,omitempty"`
	Type              string   `json:"type,omitempty"`
	Required          bool     `json:"required"`
	PreferredChannels []string `json:"preferredChannels,omitempty"`
	RequiredInitials  []string `json:"requiredInitials,omitempty"`
}

type createSessionRequest struct {
	DocumentID       string              `json:"documentId"`
	DocumentTitle    string              `json:"documentTitle,omitempty"`
	DocumentHash     string              `json:"documentHash"`
	SKU              string              `json:"sku,omitempty"`
	Creator          string              `json:"creator"`
	Signers          []newSignerRequest  `json:"signers"`
	Threshold        int                 `json:"threshold,omitempty"`
	RequireAll       bool                `json:"requireAll,omitempty"`
	Ordering         string              `json:"ordering,omitempty"`
	ExpiresInHours   float64             `json:"expiresInHours,omitempty"`
	RequireOTP       bool                `json:"requireOtp,omitempty"`
	RequireIntent    bool                `json:"requireIntent,omitempty"`
	RequiredInitials []string            `json:"requiredInitials,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.DocumentID == "" || req.DocumentHash == "" || len(req.Signers) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "documentId, documentHash, and at least one signer are required")
		return
	}

	ordering := session.OrderingAny
	if req.Ordering == string(session.OrderingStrict) {
		ordering = session.OrderingStrict
	}
	expiresInHours := req.ExpiresInHours
	if expiresInHours <= 0 {
		expiresInHours = 24 * 7
	}
	expiresAt := time.Now().UTC().Add(time.Duration(expiresInHours * float64(time.Hour)))

	signers := make([]session.NewSigner, 0, len(req.Signers))
	for _, ns := range req.Signers {
		sigType := signature.TypeApprover
		if ns.Type != "" {
			sigType = signature.SignatureType(ns.Type)
		}
		signers = append(signers, session.NewSigner{
			Name: ns.Name, Email: ns.Email, Phone: ns.Phone, Telegram: ns.Telegram, Wallet: ns.Wallet,
			Organization: ns.Organization, Role: ns.Role, Type: sigType, Required: ns.Required,
			PreferredChannels: ns.PreferredChannels, RequiredInitials: ns.RequiredInitials,
		})
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = len(signers)
	}

	sess, err := s.Sessions.CreateSession(session.CreateParams{
		DocumentID: req.DocumentID, DocumentHash: req.DocumentHash, SKU: req.SKU, Creator: req.Creator,
		Signers: signers, Threshold: threshold, RequireAll: req.RequireAll, Ordering: ordering,
		ExpiresAt: expiresAt, RequireIntent: req.RequireIntent, RequireOTP: req.RequireOTP,
		BaseURL: s.BaseURL, RequiredInitials: req.RequiredInitials,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	type signingLink struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		URL   string `json:"url"`
	}
	links := make([]signingLink, 0, len(sess.Signers))
	for _, sg := range sess.Signers {
		links = append(links, signingLink{Name: sg.Name, Email: sg.Email, URL: fmt.Sprintf("%s/sign/%s", s.BaseURL, sg.AccessToken)})
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"sessionId":    sess.SessionID,
		"signingLinks": links,
		"expiresAt":    sess.Config.ExpiresAt,
	})
}
