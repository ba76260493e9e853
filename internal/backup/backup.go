// Package backup implements the Backup Agent (§4.13): a daemon that
// periodically snapshots the entire persistent store directory into a
// single integrity-checked, optionally encrypted bundle, and maintains its
// own hash-chained ledger of backup events.
package backup

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/google/uuid"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/store"
)

const (
	pbkdf2SaltSize   = 32
	pbkdf2Iterations = 100_000
	aesKeySize       = 32
	gcmIVSize        = 16
)

// Sentinel errors.
var (
	ErrIntegrityMismatch = errors.New("backup: integrity hash mismatch")
	ErrFileHashMismatch  = errors.New("backup: per-file hash mismatch")
	ErrNotFound          = errors.New("backup: ledger entry not found")
)

// FileEntry is one file captured in a backup bundle.
type FileEntry struct {
	RelativePath string `json:"relativePath"`
	SHA256       string `json:"sha256"`
	Size         int64  `json:"size"`
	Content      string `json:"content"` // base64-independent: raw JSON/text content, stored verbatim
}

// Manifest describes one completed (or attempted) backup.
type Manifest struct {
	BackupID      string      `json:"backupId"`
	Timestamp     time.Time   `json:"timestamp"`
	EngineVersion string      `json:"engineVersion"`
	Files         []FileEntry `json:"files"`
	TotalSize     int64       `json:"totalSize"`
	IntegrityHash string      `json:"integrityHash"`
	Encrypted     bool        `json:"encrypted"`
	Hostname      string      `json:"hostname"`
}

// LedgerEvent enumerates the backup ledger's event kinds.
type LedgerEvent string

const (
	EventStarted   LedgerEvent = "backup-started"
	EventSucceeded LedgerEvent = "backup-succeeded"
	EventFailed    LedgerEvent = "backup-failed"
	EventPruned    LedgerEvent = "backup-pruned"
)

// LedgerEntry is one append-only entry in the backup agent's own hash chain.
type LedgerEntry struct {
	Sequence          uint64      `json:"sequence"`
	BackupID          string      `json:"backupId"`
	Event             LedgerEvent `json:"event"`
	Detail            string      `json:"detail,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	PreviousChainHash string      `json:"previousChainHash"`
	ChainHash         string      `json:"chainHash"`
}

type ledgerDocument struct {
	Engine  string        `json:"engine"`
	Version int           `json:"version"`
	Entries []LedgerEntry `json:"entries"`
}

func freshLedgerDocument() ledgerDocument {
	return ledgerDocument{Engine: "doc-sovereign-engine-backup-ledger", Version: 1, Entries: []LedgerEntry{}}
}

// RemoteMirror is the optional interface an Azure Blob Storage mirror (or
// any other object store) satisfies.
type RemoteMirror interface {
	Upload(ctx context.Context, objectName string, data []byte) error
}

// Agent is the backup daemon. It owns its own ledger store and snapshots a
// data directory on demand or on a schedule.
type Agent struct {
	dataDir       string
	backupDir     string
	engineVersion string
	ledger        *store.Store[ledgerDocument]
	remote        RemoteMirror
	retention     time.Duration
}

// Options configures a new Agent.
type Options struct {
	DataDir       string
	BackupDir     string
	LedgerPath    string
	EngineVersion string
	Remote        RemoteMirror
	Retention     time.Duration
}

// Open constructs an Agent, creating the backup directory and ledger store
// if needed.
func Open(opts Options) (*Agent, error) {
	if opts.EngineVersion == "" {
		opts.EngineVersion = "1.0.0"
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	if err := os.MkdirAll(opts.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create backup dir: %w", err)
	}
	s, err := store.Open(opts.LedgerPath, freshLedgerDocument)
	if err != nil {
		return nil, fmt.Errorf("backup: open ledger: %w", err)
	}
	return &Agent{
		dataDir:       opts.DataDir,
		backupDir:     opts.BackupDir,
		engineVersion: opts.EngineVersion,
		ledger:        s,
		remote:        opts.Remote,
		retention:     opts.Retention,
	}, nil
}

func (a *Agent) appendLedger(backupID string, event LedgerEvent, detail string) (LedgerEntry, error) {
	var out LedgerEntry
	err := a.ledger.Update(func(doc *ledgerDocument) error {
		seq := uint64(len(doc.Entries)) + 1
		prev := canon.GenesisMarker
		if len(doc.Entries) > 0 {
			prev = doc.Entries[len(doc.Entries)-1].ChainHash
		}
		now := time.Now().UTC()
		entry := LedgerEntry{
			Sequence:          seq,
			BackupID:          backupID,
			Event:             event,
			Detail:            detail,
			Timestamp:         now,
			PreviousChainHash: prev,
		}
		entry.ChainHash = canon.JoinHash(
			canon.Uint64(entry.Sequence),
			entry.BackupID,
			string(entry.Event),
			entry.Timestamp.Format(time.RFC3339Nano),
			entry.PreviousChainHash,
		)
		doc.Entries = append(doc.Entries, entry)
		out = entry
		return nil
	})
	return out, err
}

// collectFiles enumerates every .json and .txt file under dataDir, in
// deterministic (sorted) relative-path order.
func collectFiles(dataDir string) ([]FileEntry, error) {
	var files []FileEntry
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".txt" {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		files = append(files, FileEntry{
			RelativePath: filepath.ToSlash(rel),
			SHA256:       canon.Sum256Hex(content),
			Size:         int64(len(content)),
			Content:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })
	return files, nil
}

func computeIntegrityHash(files []FileEntry) (string, []byte, error) {
	bundle := map[string]FileEntry{}
	for _, f := range files {
		bundle[f.RelativePath] = f
	}
	pretty, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", nil, err
	}
	return canon.Sum256Hex(pretty), pretty, nil
}

// RunParams configures one backup invocation.
type RunParams struct {
	Passphrase string
}

// RunResult is the outcome of one backup invocation.
type RunResult struct {
	Manifest Manifest
	Path     string
}

// Run performs one full snapshot of dataDir: enumerate files, build the
// bundle, compute the integrity hash, optionally encrypt, write to disk, and
// record the outcome in the backup ledger.
func (a *Agent) Run(ctx context.Context, p RunParams) (RunResult, error) {
	backupID := uuid.NewString()
	if _, err := a.appendLedger(backupID, EventStarted, ""); err != nil {
		return RunResult{}, err
	}

	files, err := collectFiles(a.dataDir)
	if err != nil {
		a.appendLedger(backupID, EventFailed, err.Error())
		return RunResult{}, fmt.Errorf("backup: collect files: %w", err)
	}

	integrityHash, _, err := computeIntegrityHash(files)
	if err != nil {
		a.appendLedger(backupID, EventFailed, err.Error())
		return RunResult{}, fmt.Errorf("backup: compute integrity hash: %w", err)
	}

	var totalSize int64
	for _, f := range files {
		totalSize += f.Size
	}

	hostname, _ := os.Hostname()
	manifest := Manifest{
		BackupID:      backupID,
		Timestamp:     time.Now().UTC(),
		EngineVersion: a.engineVersion,
		Files:         files,
		TotalSize:     totalSize,
		Encrypted:     p.Passphrase != "",
		Hostname:      hostname,
	}
	manifest.IntegrityHash = integrityHash

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		a.appendLedger(backupID, EventFailed, err.Error())
		return RunResult{}, fmt.Errorf("backup: marshal manifest: %w", err)
	}

	var onDisk []byte
	if p.Passphrase != "" {
		onDisk, err = encryptBundle(manifestBytes, p.Passphrase)
		if err != nil {
			a.appendLedger(backupID, EventFailed, err.Error())
			return RunResult{}, fmt.Errorf("backup: encrypt bundle: %w", err)
		}
	} else {
		onDisk = manifestBytes
	}

	path := filepath.Join(a.backupDir, fmt.Sprintf("%s.backup", backupID))
	if err := os.WriteFile(path, onDisk, 0o600); err != nil {
		a.appendLedger(backupID, EventFailed, err.Error())
		return RunResult{}, fmt.Errorf("backup: write backup file: %w", err)
	}

	if a.remote != nil {
		if err := a.remote.Upload(ctx, filepath.Base(path), onDisk); err != nil {
			a.appendLedger(backupID, EventFailed, "remote mirror upload failed: "+err.Error())
		}
	}

	if _, err := a.appendLedger(backupID, EventSucceeded, path); err != nil {
		return RunResult{}, err
	}

	return RunResult{Manifest: manifest, Path: path}, nil
}

// encryptBundle derives a 256-bit key via PBKDF2-HMAC-SHA512 and seals
// plaintext with AES-256-GCM. On-disk layout: salt ‖ IV ‖ authTag ‖
// ciphertext.
func encryptBundle(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, pbkdf2SaltSize)
	if _, err := cryptorand.Read(salt); err != nil {
		return nil, fmt.Errorf("backup: generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, aesKeySize, sha512.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("backup: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, gcmIVSize)
	if err != nil {
		return nil, fmt.Errorf("backup: new gcm: %w", err)
	}

	iv := make([]byte, gcmIVSize)
	if _, err := cryptorand.Read(iv); err != nil {
		return nil, fmt.Errorf("backup: generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcm.Overhead()]
	authTag := sealed[len(sealed)-gcm.Overhead():]

	out := make([]byte, 0, len(salt)+len(iv)+len(authTag)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, authTag...)
	out = append(out, ciphertext...)
	return out, nil
}

func decryptBundle(onDisk []byte, passphrase string) ([]byte, error) {
	gcmOverhead := 16 // AES-GCM standard tag size
	minLen := pbkdf2SaltSize + gcmIVSize + gcmOverhead
	if len(onDisk) < minLen {
		return nil, errors.New("backup: encrypted bundle too short")
	}
	salt := onDisk[:pbkdf2SaltSize]
	iv := onDisk[pbkdf2SaltSize : pbkdf2SaltSize+gcmIVSize]
	authTag := onDisk[pbkdf2SaltSize+gcmIVSize : pbkdf2SaltSize+gcmIVSize+gcmOverhead]
	ciphertext := onDisk[pbkdf2SaltSize+gcmIVSize+gcmOverhead:]

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, aesKeySize, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("backup: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, gcmIVSize)
	if err != nil {
		return nil, fmt.Errorf("backup: new gcm: %w", err)
	}
	sealed := append(append([]byte{}, ciphertext...), authTag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("backup: decrypt: %w", err)
	}
	return plaintext, nil
}

// VerifyReport is the outcome of VerifyBackup.
type VerifyReport struct {
	Valid             bool     `json:"valid"`
	IntegrityHashOK   bool     `json:"integrityHashOk"`
	MismatchedFiles   []string `json:"mismatchedFiles,omitempty"`
	Issues            []string `json:"issues,omitempty"`
}

// VerifyBackup decrypts (if a passphrase is given), rechecks the manifest's
// integrity hash, and checks every per-file hash against the bundle.
func VerifyBackup(path string, passphrase string) (VerifyReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("backup: read backup file: %w", err)
	}

	plaintext := raw
	if passphrase != "" {
		plaintext, err = decryptBundle(raw, passphrase)
		if err != nil {
			return VerifyReport{}, err
		}
	}

	var manifest Manifest
	if err := json.Unmarshal(plaintext, &manifest); err != nil {
		return VerifyReport{}, fmt.Errorf("backup: unmarshal manifest: %w", err)
	}

	report := VerifyReport{Valid: true, IntegrityHashOK: true}

	recomputed, _, err := computeIntegrityHash(manifest.Files)
	if err != nil {
		return VerifyReport{}, err
	}
	if recomputed != manifest.IntegrityHash {
		report.Valid = false
		report.IntegrityHashOK = false
		report.Issues = append(report.Issues, ErrIntegrityMismatch.Error())
	}

	for _, f := range manifest.Files {
		if canon.Sum256Hex([]byte(f.Content)) != f.SHA256 {
			report.Valid = false
			report.MismatchedFiles = append(report.MismatchedFiles, f.RelativePath)
		}
	}
	if len(report.MismatchedFiles) > 0 {
		report.Issues = append(report.Issues, ErrFileHashMismatch.Error())
	}

	return report, nil
}

// Prune removes backup files under backupDir older than the retention
// cutoff and appends a pruned event per removed file.
func (a *Agent) Prune() (int, error) {
	cutoff := time.Now().Add(-a.retention)
	removed := 0

	entries, err := os.ReadDir(a.backupDir)
	if err != nil {
		return 0, fmt.Errorf("backup: read backup dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		full := filepath.Join(a.backupDir, e.Name())
		if err := os.Remove(full); err != nil {
			continue
		}
		if _, err := a.appendLedger(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), EventPruned, full); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// VerifyLedgerChain walks the backup agent's own ledger and confirms every
// chainHash is a valid function of its predecessor.
func (a *Agent) VerifyLedgerChain() (bool, []uint64) {
	var entries []LedgerEntry
	a.ledger.View(func(doc *ledgerDocument) {
		entries = make([]LedgerEntry, len(doc.Entries))
		copy(entries, doc.Entries)
	})

	var broken []uint64
	prev := canon.GenesisMarker
	for _, e := range entries {
		expected := canon.JoinHash(
			canon.Uint64(e.Sequence),
			e.BackupID,
			string(e.Event),
			e.Timestamp.Format(time.RFC3339Nano),
			prev,
		)
		if expected != e.ChainHash || e.PreviousChainHash != prev {
			broken = append(broken, e.Sequence)
		}
		prev = e.ChainHash
	}
	return len(broken) == 0, broken
}

// LedgerEntries returns a defensive copy of the backup ledger.
func (a *Agent) LedgerEntries() []LedgerEntry {
	var out []LedgerEntry
	a.ledger.View(func(doc *ledgerDocument) {
		out = make([]LedgerEntry, len(doc.Entries))
		copy(out, doc.Entries)
	})
	return out
}
