package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/doc-sovereign/engine/internal/intent"
	"github.com/doc-sovereign/engine/internal/lifecycle"
	"github.com/doc-sovereign/engine/internal/otp"
	"github.com/doc-sovereign/engine/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	sessions, err := session.Open(filepath.Join(dir, "sessions.json"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	intents, err := intent.Open(filepath.Join(dir, "intents.json"))
	if err != nil {
		t.Fatalf("intent.Open: %v", err)
	}
	otps, err := otp.Open(filepath.Join(dir, "otp.json"))
	if err != nil {
		t.Fatalf("otp.Open: %v", err)
	}
	lifecycles, err := lifecycle.Open(filepath.Join(dir, "lifecycle.json"))
	if err != nil {
		t.Fatalf("lifecycle.Open: %v", err)
	}

	return NewServer(sessions, intents, otps, lifecycles, "http://localhost:8443", zerolog.Nop())
}

func postJSON(t *testing.T, mux http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestCreateSessionAndSignFlow(t *testing.T) {
	s := newTestServer(t)
	mux := s.Router()

	if _, err := s.Lifecycles.CreateLifecycle("doc-1", "sku-1", "contract.pdf", "Contract", "draft-hash", nil, nil, "alice", nil); err != nil {
		t.Fatalf("CreateLifecycle: %v", err)
	}

	createResp := postJSON(t, mux, "/session", createSessionRequest{
		DocumentID:   "doc-1",
		DocumentHash: "draft-hash",
		Creator:      "alice",
		Signers: []newSignerRequest{
			{Name: "Bob", Email: "bob@example.com", Required: true},
		},
	})
	if createResp.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", createResp.Code, createResp.Body.String())
	}

	var createEnv struct {
		Data struct {
			SessionID    string `json:"sessionId"`
			SigningLinks []struct {
				URL string `json:"url"`
			} `json:"signingLinks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(createResp.Body.Bytes(), &createEnv); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if createEnv.Data.SessionID == "" || len(createEnv.Data.SigningLinks) != 1 {
		t.Fatalf("unexpected create response: %+v", createEnv)
	}

	token := createEnv.Data.SigningLinks[0].URL[len("http://localhost:8443/sign/"):]

	signReq := httptest.NewRequest(http.MethodGet, "/sign/"+token, nil)
	signRR := httptest.NewRecorder()
	mux.ServeHTTP(signRR, signReq)
	if signRR.Code != http.StatusOK {
		t.Fatalf("signing page: status %d", signRR.Code)
	}

	submitResp := postJSON(t, mux, "/sign/"+token, submitSignatureRequest{})
	if submitResp.Code != http.StatusOK {
		t.Fatalf("submit signature: status %d body %s", submitResp.Code, submitResp.Body.String())
	}

	var submitEnv struct {
		Data struct {
			SignatureHash string `json:"signatureHash"`
			SessionStatus string `json:"sessionStatus"`
			ThresholdMet  bool   `json:"thresholdMet"`
		} `json:"data"`
	}
	if err := json.Unmarshal(submitResp.Body.Bytes(), &submitEnv); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if submitEnv.Data.SignatureHash == "" || !submitEnv.Data.ThresholdMet {
		t.Fatalf("unexpected submit response: %+v", submitEnv)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/session/"+createEnv.Data.SessionID, nil)
	statusRR := httptest.NewRecorder()
	mux.ServeHTTP(statusRR, statusReq)
	if statusRR.Code != http.StatusOK {
		t.Fatalf("session status: status %d", statusRR.Code)
	}
}

func TestSigningPageUnknownTokenRendersGenericError(t *testing.T) {
	s := newTestServer(t)
	mux := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/sign/does-not-exist", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("no longer valid")) {
		t.Fatalf("expected generic error page, got %s", rr.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	mux := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
