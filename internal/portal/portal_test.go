package portal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/doc-sovereign/engine/internal/accesstoken"
	"github.com/doc-sovereign/engine/internal/cidregistry"
	"github.com/doc-sovereign/engine/internal/lifecycle"
	"github.com/doc-sovereign/engine/internal/multisig"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	lifecycles, err := lifecycle.Open(filepath.Join(dir, "lifecycle.json"))
	if err != nil {
		t.Fatalf("lifecycle.Open: %v", err)
	}
	cids, err := cidregistry.Open(filepath.Join(dir, "cid.json"))
	if err != nil {
		t.Fatalf("cidregistry.Open: %v", err)
	}
	ms, err := multisig.Open(filepath.Join(dir, "multisig.json"))
	if err != nil {
		t.Fatalf("multisig.Open: %v", err)
	}

	return NewServer(accesstoken.NewStore(10), lifecycles, cids, ms, zerolog.Nop())
}

func postJSON(t *testing.T, mux http.Handler, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func getWithToken(t *testing.T, mux http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestIssueTokenAndVerifyDocument(t *testing.T) {
	s := newTestServer(t)
	mux := s.Router()

	if _, err := s.Lifecycles.CreateLifecycle("doc-1", "sku-1", "contract.pdf", "Contract", "draft-hash", nil, nil, "alice", nil); err != nil {
		t.Fatalf("CreateLifecycle: %v", err)
	}

	issueResp := postJSON(t, mux, "/token", "", issueTokenRequest{Email: "carol@example.com", Purpose: "verify"})
	if issueResp.Code != http.StatusCreated {
		t.Fatalf("issue token: status %d body %s", issueResp.Code, issueResp.Body.String())
	}

	var issueEnv struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(issueResp.Body.Bytes(), &issueEnv); err != nil {
		t.Fatalf("decode issue response: %v", err)
	}
	if issueEnv.Data.Token == "" {
		t.Fatalf("expected a token, got empty")
	}

	verifyResp := getWithToken(t, mux, "/verify/doc-1", issueEnv.Data.Token)
	if verifyResp.Code != http.StatusOK {
		t.Fatalf("verify document: status %d body %s", verifyResp.Code, verifyResp.Body.String())
	}

	unauthorized := getWithToken(t, mux, "/verify/doc-1", "")
	if unauthorized.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", unauthorized.Code)
	}
}

func TestSignRequiresSignPurposeToken(t *testing.T) {
	s := newTestServer(t)
	mux := s.Router()

	wf, err := s.Multisig.CreateWorkflow(multisig.CreateParams{
		DocumentID:         "doc-2",
		DocumentHash:       "hash-2",
		Initiator:          "alice",
		RequiredSignatures: 1,
		Counterparties:     []multisig.NewCounterparty{{Email: "bob@example.com", Name: "Bob", Required: true}},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	verifyTok, _ := s.Tokens.Issue("bob@example.com", accesstoken.PurposeVerify)
	wrongPurpose := postJSON(t, mux, "/sign/doc-2", verifyTok.Value, signRequest{WorkflowID: wf.WorkflowID, Email: "bob@example.com", Name: "Bob", DocumentHash: "hash-2"})
	if wrongPurpose.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong-purpose token, got %d", wrongPurpose.Code)
	}

	signTok, _ := s.Tokens.Issue("bob@example.com", accesstoken.PurposeSign)
	signResp := postJSON(t, mux, "/sign/doc-2", signTok.Value, signRequest{WorkflowID: wf.WorkflowID, Email: "bob@example.com", Name: "Bob", DocumentHash: "hash-2"})
	if signResp.Code != http.StatusOK {
		t.Fatalf("sign: status %d body %s", signResp.Code, signResp.Body.String())
	}

	var signEnv struct {
		Data struct {
			WorkflowStatus string `json:"workflowStatus"`
			ThresholdMet   bool   `json:"thresholdMet"`
			SignatureHash  string `json:"signatureHash"`
		} `json:"data"`
	}
	if err := json.Unmarshal(signResp.Body.Bytes(), &signEnv); err != nil {
		t.Fatalf("decode sign response: %v", err)
	}
	if !signEnv.Data.ThresholdMet {
		t.Fatalf("expected threshold met with a single required signer, got status %q", signEnv.Data.WorkflowStatus)
	}
	if signEnv.Data.SignatureHash == "" {
		t.Fatalf("expected a non-empty signatureHash")
	}

	statusResp := getWithToken(t, mux, "/status/"+wf.WorkflowID, signTok.Value)
	if statusResp.Code != http.StatusOK {
		t.Fatalf("status: status %d", statusResp.Code)
	}
}
