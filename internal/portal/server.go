// Package portal implements the Sovereign Portal (§4.7): a bearer-token
// gated surface distinct from the public per-signer signing gateway, used by
// parties holding a capability token to verify a document's state, submit a
// counterparty signature against a multi-sig workflow, or check a workflow's
// status.
package portal

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/doc-sovereign/engine/internal/accesstoken"
	"github.com/doc-sovereign/engine/internal/cidregistry"
	"github.com/doc-sovereign/engine/internal/lifecycle"
	"github.com/doc-sovereign/engine/internal/multisig"
)

// Server holds the dependencies the portal's handlers call into.
type Server struct {
	Tokens     *accesstoken.Store
	Lifecycles *lifecycle.Registry
	CIDs       *cidregistry.Registry
	Multisig   *multisig.Engine
	Log        zerolog.Logger
}

// NewServer is a small convenience constructor mirroring the gateway's.
func NewServer(tokens *accesstoken.Store, lifecycles *lifecycle.Registry, cids *cidregistry.Registry, ms *multisig.Engine, log zerolog.Logger) *Server {
	return &Server{Tokens: tokens, Lifecycles: lifecycles, CIDs: cids, Multisig: ms, Log: log}
}

// Router builds the HTTP handler described in §4.7 / §6.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleDashboard)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /token", s.handleIssueToken)
	mux.HandleFunc("GET /verify/{documentId}", s.requirePurpose(accesstoken.PurposeVerify, s.handleVerifyDocument))
	mux.HandleFunc("GET /verify/cid/{cid}", s.requirePurpose(accesstoken.PurposeVerify, s.handleVerifyCID))
	mux.HandleFunc("POST /sign/{documentId}", s.requirePurpose(accesstoken.PurposeSign, s.handleSign))
	mux.HandleFunc("GET /status/{workflowId}", s.requirePurpose(accesstoken.PurposeVerify, s.handleWorkflowStatus))
	return mux
}

// bearerToken extracts the token value from an "Authorization: Bearer ..."
// header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
