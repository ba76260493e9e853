package portal

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/doc-sovereign/engine/internal/accesstoken"
	"github.com/doc-sovereign/engine/internal/cidregistry"
	"github.com/doc-sovereign/engine/internal/httpx"
	"github.com/doc-sovereign/engine/internal/lifecycle"
	"github.com/doc-sovereign/engine/internal/multisig"
	"github.com/doc-sovereign/engine/internal/signature"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = dashboardTemplate.Execute(w, nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// requirePurpose validates the request's bearer token against want before
// delegating to next. A missing, unknown, expired, or wrongly-scoped token
// is rejected with the same envelope shape as any other error response.
func (s *Server) requirePurpose(want accesstoken.Purpose, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.Tokens.Validate(tok, want); err != nil {
			switch {
			case errors.Is(err, accesstoken.ErrWrongPurpose):
				httpx.WriteError(w, http.StatusForbidden, "token does not authorize this operation")
			case errors.Is(err, accesstoken.ErrExpired), errors.Is(err, accesstoken.ErrNotFound):
				httpx.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
			default:
				httpx.WriteError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		next(w, r)
	}
}

type issueTokenRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}

	purpose := accesstoken.Purpose(req.Purpose)
	switch purpose {
	case accesstoken.PurposeSign, accesstoken.PurposeVerify, accesstoken.PurposeAdmin:
	default:
		httpx.WriteError(w, http.StatusBadRequest, "purpose must be one of sign, verify, admin")
		return
	}

	tok, err := s.Tokens.Issue(req.Email, purpose)
	if err != nil {
		if errors.Is(err, accesstoken.ErrStoreFull) {
			httpx.WriteError(w, http.StatusServiceUnavailable, "token store at capacity")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"token":     tok.Value,
		"purpose":   tok.Purpose,
		"expiresAt": tok.ExpiresAt,
	})
}

func (s *Server) handleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	httpx.AllowCORS(w)
	docID := r.PathValue("documentId")

	rec, err := s.Lifecycles.GetLifecycle(docID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "document not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	report, err := s.Lifecycles.VerifyIntegrity(docID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"documentId":   rec.DocumentID,
		"sku":          rec.SKU,
		"currentStage": rec.CurrentStage,
		"version":      rec.Version,
		"transitions":  rec.Transitions,
		"hashes": map[string]any{
			"draftHash":      rec.DraftHash,
			"complianceHash": rec.ComplianceHash,
			"signedHash":     rec.SignedHash,
			"canonicalHash":  rec.CanonicalHash,
			"merkleRoot":     rec.MerkleRoot,
		},
		"cids": map[string]any{
			"plainCid":     rec.PlainCID,
			"encryptedCid": rec.EncryptedCID,
		},
		"ledgerTx":  rec.LedgerTx,
		"chain":     rec.Chain,
		"integrity": report,
		"valid":     report.Valid(),
	})
}

func (s *Server) handleVerifyCID(w http.ResponseWriter, r *http.Request) {
	httpx.AllowCORS(w)
	cid := r.PathValue("cid")

	cidRec, err := s.CIDs.LookupByCID(cid)
	if err != nil {
		if errors.Is(err, cidregistry.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "cid not registered")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{
		"cid":          cidRec.CID,
		"sha256":       cidRec.SHA256,
		"merkleRoot":   cidRec.MerkleRoot,
		"sku":          cidRec.SKU,
		"registeredAt": cidRec.RegisteredAt,
	}
	if lc, err := s.Lifecycles.GetLifecycleBySKU(cidRec.SKU); err == nil {
		resp["documentId"] = lc.DocumentID
		resp["currentStage"] = lc.CurrentStage
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

type signRequest struct {
	WorkflowID        string `json:"workflowId,omitempty"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	Role              string `json:"role,omitempty"`
	Type              string `json:"type,omitempty"`
	DocumentHash      string `json:"documentHash"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	Platform          string `json:"platform,omitempty"`
}

// handleSign submits a counterparty signature against the multi-sig
// workflow bound to documentId. §6 names the workflow in the request body
// too (signing flows were invited to a specific workflow); when the body
// omits it, the most recent workflow created for the document is used.
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("documentId")

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Email == "" || req.DocumentHash == "" {
		httpx.WriteError(w, http.StatusBadRequest, "email and documentHash are required")
		return
	}

	var wf multisig.Workflow
	var err error
	if req.WorkflowID != "" {
		wf, err = s.Multisig.GetWorkflow(req.WorkflowID)
	} else {
		wf, err = s.Multisig.GetWorkflowByDocument(docID)
	}
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "no matching multi-sig workflow for this document")
		return
	}

	var merkleRoot string
	if rec, err := s.Lifecycles.GetLifecycle(docID); err == nil {
		merkleRoot = rec.MerkleRoot
	}

	sigType := signature.TypeCounterparty
	if req.Type != "" {
		sigType = signature.SignatureType(req.Type)
	}

	updated, err := s.Multisig.AddSignature(wf.WorkflowID, multisig.AddSignatureParams{
		Email: req.Email, Name: req.Name, Role: req.Role, Type: sigType,
		DocumentHash: req.DocumentHash, MerkleRoot: merkleRoot, SignedAt: time.Now().UTC(),
		DeviceFingerprint: req.DeviceFingerprint, Platform: req.Platform,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	thresholdMet := updated.Status == multisig.StatusThresholdMet || updated.Status == multisig.StatusFinalized
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"workflowStatus": updated.Status,
		"signatureCount": updated.SignatureCount,
		"threshold":      updated.Threshold,
		"thresholdMet":   thresholdMet,
		"signatureHash":  updated.Signatures[req.Email].SignatureHash,
	})
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	httpx.AllowCORS(w)
	workflowID := r.PathValue("workflowId")

	wf, err := s.Multisig.GetWorkflow(workflowID)
	if err != nil {
		if errors.Is(err, multisig.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "workflow not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"workflowId":     wf.WorkflowID,
		"documentId":     wf.DocumentID,
		"status":         wf.Status,
		"signatureCount": wf.SignatureCount,
		"threshold":      wf.Threshold,
		"counterparties": wf.Counterparties,
		"lastActivityAt": wf.LastActivityAt,
	})
}
