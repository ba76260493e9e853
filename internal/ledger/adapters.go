package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doc-sovereign/engine/internal/canon"
)

// Chain identifies a target ledger an anchor can be written to.
type Chain string

const (
	ChainXRPL     Chain = "xrpl"
	ChainStellar  Chain = "stellar"
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
	ChainIPFS     Chain = "ipfs"
)

// Adapter delegates a memo to a specific chain, returning a tx hash (or CID,
// for the content-addressed case) and whether the write actually reached an
// external system.
type Adapter interface {
	Chain() Chain
	Anchor(memoHash string, memoBytes []byte) (txHash string, live bool, err error)
}

// stubAdapter produces a deterministic mock transaction hash for chains this
// engine does not hold live credentials for. The hash depends only on the
// chain name and the memo hash, both stored on the anchor record; VerifyAnchor
// does not recompute it.
type stubAdapter struct {
	chain Chain
}

func (a stubAdapter) Chain() Chain { return a.chain }

func (a stubAdapter) Anchor(memoHash string, _ []byte) (string, bool, error) {
	return canon.JoinHash(string(a.chain), "mock-tx", memoHash), false, nil
}

// NewXRPLAdapter returns the XRPL stub adapter.
func NewXRPLAdapter() Adapter { return stubAdapter{chain: ChainXRPL} }

// NewStellarAdapter returns the Stellar stub adapter.
func NewStellarAdapter() Adapter { return stubAdapter{chain: ChainStellar} }

// NewEthereumAdapter returns the Ethereum/Polygon-compatible stub adapter.
func NewEthereumAdapter(chain Chain) Adapter { return stubAdapter{chain: chain} }

// ipfsAdapter posts the anchor payload to a local content-addressed node's
// HTTP API; if the node is unreachable it falls back to synthesizing a
// deterministic CID from the memo's SHA-256, per §4.9.
type ipfsAdapter struct {
	apiURL string
	client *http.Client
}

// NewIPFSAdapter returns an adapter that POSTs the memo bytes to apiURL
// exactly as given (no API path is appended), falling back to offline
// synthesis.
func NewIPFSAdapter(apiURL string) Adapter {
	return ipfsAdapter{apiURL: apiURL, client: &http.Client{Timeout: 3 * time.Second}}
}

func (a ipfsAdapter) Chain() Chain { return ChainIPFS }

func (a ipfsAdapter) Anchor(memoHash string, memoBytes []byte) (string, bool, error) {
	if a.apiURL == "" {
		return synthesizeOfflineCID(memoHash), false, nil
	}

	req, err := http.NewRequest(http.MethodPost, a.apiURL, bytes.NewReader(memoBytes))
	if err != nil {
		return synthesizeOfflineCID(memoHash), false, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return synthesizeOfflineCID(memoHash), false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return synthesizeOfflineCID(memoHash), false, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return synthesizeOfflineCID(memoHash), false, nil
	}

	var parsed struct {
		Hash string `json:"Hash"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Hash == "" {
		return synthesizeOfflineCID(memoHash), false, nil
	}
	return parsed.Hash, true, nil
}

// synthesizeOfflineCID builds a deterministic, CID-shaped identifier from a
// memo hash when no content-addressed node is reachable.
func synthesizeOfflineCID(memoHash string) string {
	return fmt.Sprintf("bafkoffline%s", memoHash[:46])
}
