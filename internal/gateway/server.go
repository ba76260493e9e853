// Package gateway implements the Signing Gateway (§4.6): the public-facing
// signing UI and API surface a per-signer access token resolves to. The
// gateway never owns state itself — every mutation is delegated to the
// session engine, the intent logger, or the OTP engine, and the gateway's
// only job is translating HTTP requests into calls against those engines in
// the right order and shape.
package gateway

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/doc-sovereign/engine/internal/intent"
	"github.com/doc-sovereign/engine/internal/lifecycle"
	"github.com/doc-sovereign/engine/internal/otp"
	"github.com/doc-sovereign/engine/internal/session"
)

// Server holds the dependencies the signing gateway's handlers call into.
type Server struct {
	Sessions   *session.Engine
	Intents    *intent.Logger
	OTPs       *otp.Engine
	Lifecycles *lifecycle.Registry
	BaseURL    string
	Log        zerolog.Logger
}

// Router builds the HTTP handler described in §4.6 / §6.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleDashboard)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /sign/{token}", s.handleSigningPage)
	mux.HandleFunc("POST /sign/{token}/initial", s.handleInitial)
	mux.HandleFunc("POST /sign/{token}/otp", s.handleOTPRequest)
	mux.HandleFunc("POST /sign/{token}/verify-otp", s.handleOTPVerify)
	mux.HandleFunc("POST /sign/{token}", s.handleSubmitSignature)
	mux.HandleFunc("GET /session/{id}", s.handleSessionStatus)
	mux.HandleFunc("GET /session/{id}/evidence", s.handleEvidence)
	mux.HandleFunc("POST /session", s.handleCreateSession)
	return mux
}

// NewServer is a small convenience constructor mirroring the shape the
// teacher's sibling services use for their HTTP entry points.
func NewServer(sessions *session.Engine, intents *intent.Logger, otps *otp.Engine, lifecycles *lifecycle.Registry, baseURL string, log zerolog.Logger) *Server {
	return &Server{Sessions: sessions, Intents: intents, OTPs: otps, Lifecycles: lifecycles, BaseURL: baseURL, Log: log}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func deviceEvidence(r *http.Request) intent.DeviceEvidence {
	return intent.DeviceEvidence{
		UserAgent:         r.UserAgent(),
		DeviceFingerprint: r.Header.Get("X-Device-Fingerprint"),
		Platform:          r.Header.Get("X-Client-Platform"),
		Language:          r.Header.Get("Accept-Language"),
	}
}
