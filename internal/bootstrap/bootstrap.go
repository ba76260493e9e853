// Package bootstrap wires the engine's persistent stores in the dependency
// order fixed by §2: Key Provider → CID Registry → Event Log → Lifecycle
// Registry → Intent Logger → OTP Engine → Signing Session Engine → Multi-Sig
// Engine → Forensic Fingerprint Engine → Ledger Anchor Engine → Agreement
// State Engine. The gateway and the portal binaries share this wiring so that
// they always agree on where each store's file lives under the configured
// data directory; the backup agent does not use it and reads the data
// directory straight from the config.
package bootstrap

import (
	"fmt"
	"path/filepath"

	"github.com/doc-sovereign/engine/internal/agreement"
	"github.com/doc-sovereign/engine/internal/cidregistry"
	"github.com/doc-sovereign/engine/internal/config"
	"github.com/doc-sovereign/engine/internal/fingerprint"
	"github.com/doc-sovereign/engine/internal/intent"
	"github.com/doc-sovereign/engine/internal/keyprovider"
	"github.com/doc-sovereign/engine/internal/ledger"
	"github.com/doc-sovereign/engine/internal/lifecycle"
	"github.com/doc-sovereign/engine/internal/multisig"
	"github.com/doc-sovereign/engine/internal/otp"
	"github.com/doc-sovereign/engine/internal/session"
)

// Bundle holds every subsystem a cmd/ binary might need. Binaries that only
// need a subset (the backup agent needs none of these — it snapshots the
// data directory as opaque files) simply leave the rest unused.
type Bundle struct {
	Config *config.Config

	Keys          *keyprovider.Registry
	CIDRegistry   *cidregistry.Registry
	EventLog      *cidregistry.EventLog
	Lifecycle     *lifecycle.Registry
	Intent        *intent.Logger
	OTP           *otp.Engine
	Session       *session.Engine
	Multisig      *multisig.Engine
	Fingerprint   *fingerprint.Engine
	Ledger        *ledger.Engine
	Agreement     *agreement.Engine
}

func dataPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.DataDir, name)
}

// New opens every store under cfg.DataDir, creating files that do not yet
// exist, and returns the fully wired bundle.
func New(cfg *config.Config) (*Bundle, error) {
	b := &Bundle{Config: cfg}

	localVault, err := keyprovider.NewLocalVault(cfg.KeyVault.Path, cfg.KeyVault.PBKDF2Iterations)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: local vault: %w", err)
	}
	hsmStub, err := keyprovider.NewHSMStub(dataPath(cfg, "hsm-key-vault.json"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: hsm stub: %w", err)
	}
	b.Keys = keyprovider.NewRegistry()
	b.Keys.Register(localVault)
	b.Keys.Register(hsmStub)
	if err := b.Keys.SetActive(cfg.KeyVault.ActiveProvider); err != nil {
		return nil, fmt.Errorf("bootstrap: set active key provider: %w", err)
	}

	if b.CIDRegistry, err = cidregistry.Open(dataPath(cfg, "cid-registry.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: cid registry: %w", err)
	}
	if b.EventLog, err = cidregistry.OpenEventLog(dataPath(cfg, "event-log.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: event log: %w", err)
	}
	if b.Lifecycle, err = lifecycle.Open(dataPath(cfg, "lifecycle-registry.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: lifecycle registry: %w", err)
	}
	if b.Intent, err = intent.Open(dataPath(cfg, "intent-log.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: intent logger: %w", err)
	}
	if b.OTP, err = otp.Open(dataPath(cfg, "otp-store.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: otp engine: %w", err)
	}
	if b.Session, err = session.Open(dataPath(cfg, "signing-sessions.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: session engine: %w", err)
	}
	if b.Multisig, err = multisig.Open(dataPath(cfg, "multisig-workflows.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: multisig engine: %w", err)
	}
	if b.Fingerprint, err = fingerprint.Open(dataPath(cfg, "sdc-fingerprints.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: fingerprint engine: %w", err)
	}

	adapters := []ledger.Adapter{
		ledger.NewXRPLAdapter(),
		ledger.NewStellarAdapter(),
		ledger.NewEthereumAdapter(ledger.ChainEthereum),
		ledger.NewEthereumAdapter(ledger.ChainPolygon),
		ledger.NewIPFSAdapter(cfg.Ledger.IPFSAPI),
	}
	if b.Ledger, err = ledger.Open(dataPath(cfg, "ledger-anchors.json"), adapters...); err != nil {
		return nil, fmt.Errorf("bootstrap: ledger engine: %w", err)
	}
	if b.Agreement, err = agreement.Open(dataPath(cfg, "agreement-states.json")); err != nil {
		return nil, fmt.Errorf("bootstrap: agreement engine: %w", err)
	}

	return b, nil
}
