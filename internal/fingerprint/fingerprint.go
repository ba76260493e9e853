// Package fingerprint implements the Forensic Fingerprint Engine described
// in §4.8: a deterministic, per-recipient steganographic marking of a
// document's text, and later attribution of a leaked sample back to the
// recipient it was issued to.
package fingerprint

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/store"
)

// zeroWidthCodepoints are the 5 zero-width Unicode code points used to
// encode fingerprintHash nibbles into the document text.
var zeroWidthCodepoints = []rune{
	'​', // zero width space
	'‌', // zero width non-joiner
	'‍', // zero width joiner
	'⁠', // word joiner
	0xFEFF, // zero width no-break space
}

// whitespaceVariants are the Unicode space look-alikes substituted in for a
// fraction of ordinary spaces.
var whitespaceVariants = []rune{
	' ', // en space
	' ', // em space
	' ', // thin space
	' ', // hair space
	' ', // narrow no-break space
}

// homoglyphs maps a small set of Latin letters to Cyrillic/mathematical
// look-alikes with near-identical glyphs.
var homoglyphs = map[rune]rune{
	'a': 'а', // Cyrillic а
	'e': 'е', // Cyrillic е
	'o': 'о', // Cyrillic о
	'p': 'р', // Cyrillic р
	'c': 'с', // Cyrillic с
	'x': 'х', // Cyrillic х
	'i': 'і', // Cyrillic і
	'A': 'А', // Cyrillic А
	'E': 'Е', // Cyrillic Е
	'O': 'О', // Cyrillic О
}

var wordBoundaryPattern = regexp.MustCompile(`\s+`)

// Recipient identifies one marked delivery target.
type Recipient struct {
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
	TokenID      string `json:"tokenId,omitempty"`
}

// WhitespaceSubstitution is one recorded whitespace replacement.
type WhitespaceSubstitution struct {
	Position    int    `json:"position"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// HomoglyphSubstitution is one recorded character replacement.
type HomoglyphSubstitution struct {
	Position    int    `json:"position"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// DetectionProfile is everything identifySource needs to score a leaked
// sample against this fingerprint.
type DetectionProfile struct {
	ZeroWidthPositions []int                    `json:"zeroWidthPositions"`
	ZWEncodedHash       string                   `json:"zwEncodedHash"`
	SpacingPattern      []float64                `json:"spacingPattern"`
	Whitespace          []WhitespaceSubstitution `json:"whitespace"`
	Homoglyphs          []HomoglyphSubstitution  `json:"homoglyphs"`
}

// Record is a persisted fingerprint: one per (document, recipient) pair.
type Record struct {
	FingerprintID        string            `json:"fingerprintId"`
	DocumentID           string            `json:"documentId"`
	RecipientEmail       string            `json:"recipientEmail"`
	FingerprintHash      string            `json:"fingerprintHash"`
	DetectionProfile     DetectionProfile  `json:"detectionProfile"`
	VerificationSignature string           `json:"verificationSignature"`
	Timestamp            time.Time         `json:"timestamp"`
}

type fingerprintDocument struct {
	Engine  string   `json:"engine"`
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

func freshFingerprintDocument() fingerprintDocument {
	return fingerprintDocument{Engine: "doc-sovereign-engine-fingerprint", Version: 1, Records: []Record{}}
}

// Engine is the forensic fingerprint store.
type Engine struct {
	store *store.Store[fingerprintDocument]
}

// Open loads (or creates) the fingerprint store at path.
func Open(path string) (*Engine, error) {
	s, err := store.Open(path, freshFingerprintDocument)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: open: %w", err)
	}
	return &Engine{store: s}, nil
}

// FingerprintParams is the input to Fingerprint.
type FingerprintParams struct {
	DocumentID    string
	DocumentTitle string
	Text          string
	Recipient     Recipient
}

// FingerprintResult is the output of Fingerprint.
type FingerprintResult struct {
	Record          Record
	FingerprintedText string
	SpacingCSS      string
}

// Fingerprint produces a deterministic per-recipient marking of text and
// registers the resulting record before returning — so the engine can
// always attribute even if the caller never finalizes delivery.
func (e *Engine) Fingerprint(p FingerprintParams) (FingerprintResult, error) {
	fpID, err := randomHex(16)
	if err != nil {
		return FingerprintResult{}, fmt.Errorf("fingerprint: generate id: %w", err)
	}

	fpHash := canon.Sum256Hex([]byte("forensic:" + p.Recipient.Email + ":" + p.DocumentID + ":" + fpID))

	text, zwPositions, zwEncodedHash := insertZeroWidthMarkers(p.Text, fpHash)
	text, spacingPattern, spacingCSS := applyLetterSpacing(text, fpHash)
	text, wsSubs := applyWhitespaceSubstitution(text, fpHash)
	text, hgSubs := applyHomoglyphSubstitution(text, fpHash)

	profile := DetectionProfile{
		ZeroWidthPositions: zwPositions,
		ZWEncodedHash:       zwEncodedHash,
		SpacingPattern:      spacingPattern,
		Whitespace:          wsSubs,
		Homoglyphs:          hgSubs,
	}

	summary := fmt.Sprintf("zw=%d|ws=%d|hg=%d", len(zwPositions), len(wsSubs), len(hgSubs))
	verificationSig := hmacSHA256Hex(fpHash, summary)

	rec := Record{
		FingerprintID:         fpID,
		DocumentID:            p.DocumentID,
		RecipientEmail:        p.Recipient.Email,
		FingerprintHash:       fpHash,
		DetectionProfile:      profile,
		VerificationSignature: verificationSig,
		Timestamp:             time.Now().UTC(),
	}

	err = e.store.Update(func(doc *fingerprintDocument) error {
		doc.Records = append(doc.Records, rec)
		return nil
	})
	if err != nil {
		return FingerprintResult{}, err
	}

	return FingerprintResult{Record: rec, FingerprintedText: text, SpacingCSS: spacingCSS}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hmacSHA256Hex(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// insertZeroWidthMarkers encodes each hex nibble of the first 32 characters
// of fpHash as one of 5 zero-width code points (nibble-mod-5), inserted at
// evenly spaced word-boundary positions in text. The returned encoded hash is
// the bucketed (0-4) digit string actually recoverable from the inserted
// code points — not the original hex nibbles, which the 5-way bucketing
// cannot losslessly invert — so that extracting the markers from unmodified
// text reproduces this value exactly.
func insertZeroWidthMarkers(text, fpHash string) (string, []int, string) {
	nibbles := fpHash
	if len(nibbles) > 32 {
		nibbles = nibbles[:32]
	}

	boundaries := wordBoundaryPattern.FindAllStringIndex(text, -1)
	if len(boundaries) == 0 || len(nibbles) == 0 {
		return text, nil, ""
	}

	runes := []rune(text)
	n := len(nibbles)
	positions := make([]int, 0, n)
	inserts := make(map[int][]rune)
	var encoded strings.Builder

	for i := 0; i < n; i++ {
		bIdx := (i * len(boundaries)) / n
		if bIdx >= len(boundaries) {
			bIdx = len(boundaries) - 1
		}
		pos := boundaries[bIdx][0]

		nibble := hexNibble(nibbles[i])
		bucket := nibble % 5
		codepoint := zeroWidthCodepoints[bucket]
		inserts[pos] = append(inserts[pos], codepoint)
		positions = append(positions, pos)
		fmt.Fprintf(&encoded, "%x", bucket)
	}

	var b strings.Builder
	for i, r := range runes {
		if cps, ok := inserts[i]; ok {
			for _, cp := range cps {
				b.WriteRune(cp)
			}
		}
		b.WriteRune(r)
	}
	return b.String(), positions, encoded.String()
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return 0
	}
}

// applyLetterSpacing computes a per-word deviation in [-0.03, 0.03] pt from
// a 1-byte hash sample of each word, emitting a CSS class per word.
func applyLetterSpacing(text, fpHash string) (string, []float64, string) {
	words := strings.Fields(text)
	pattern := make([]float64, len(words))

	var css strings.Builder
	for i := range words {
		sample := hashByte(fpHash, i)
		deviation := (float64(sample)/255.0)*0.06 - 0.03
		pattern[i] = deviation
		fmt.Fprintf(&css, ".fp-word-%d { letter-spacing: %.4fpt; }\n", i, deviation)
	}
	return text, pattern, css.String()
}

func hashByte(fpHash string, index int) byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", fpHash, index)))
	return sum[0]
}

// applyWhitespaceSubstitution draws a hash byte per space character and
// substitutes a Unicode space variant when the byte exceeds 180 (~30%).
func applyWhitespaceSubstitution(text, fpHash string) (string, []WhitespaceSubstitution) {
	runes := []rune(text)
	var subs []WhitespaceSubstitution
	spaceIdx := 0

	for i, r := range runes {
		if r != ' ' {
			continue
		}
		b := hashByte(fpHash, 10_000+spaceIdx)
		spaceIdx++
		if b <= 180 {
			continue
		}
		variant := whitespaceVariants[int(b)%5]
		subs = append(subs, WhitespaceSubstitution{Position: i, Original: " ", Replacement: string(variant)})
		runes[i] = variant
	}
	return string(runes), subs
}

// applyHomoglyphSubstitution draws a hash byte per eligible character and
// substitutes a look-alike when the byte exceeds 216 (~15%).
func applyHomoglyphSubstitution(text, fpHash string) (string, []HomoglyphSubstitution) {
	runes := []rune(text)
	var subs []HomoglyphSubstitution
	eligibleIdx := 0

	for i, r := range runes {
		replacement, ok := homoglyphs[r]
		if !ok {
			continue
		}
		b := hashByte(fpHash, 20_000+eligibleIdx)
		eligibleIdx++
		if b <= 216 {
			continue
		}
		subs = append(subs, HomoglyphSubstitution{Position: i, Original: string(r), Replacement: string(replacement)})
		runes[i] = replacement
	}
	return string(runes), subs
}

// IdentifyParams is the input to IdentifySource.
type IdentifyParams struct {
	DocumentID string
	LeakedText string
}

// MatchResult is the per-recipient score computed by IdentifySource.
type MatchResult struct {
	RecipientEmail string  `json:"recipientEmail"`
	Score          float64 `json:"score"`
}

// IdentifyResult is the output of IdentifySource.
type IdentifyResult struct {
	Matched   bool        `json:"matched"`
	Recipient string      `json:"recipient,omitempty"`
	Confidence float64    `json:"confidence"`
	AllScores []MatchResult `json:"allScores"`
}

const matchThreshold = 0.2

// IdentifySource scores leakedText against every fingerprint recorded for
// documentId and returns the best match, or an unmatched result when no
// candidate reaches the confidence threshold.
func (e *Engine) IdentifySource(p IdentifyParams) IdentifyResult {
	var records []Record
	e.store.View(func(doc *fingerprintDocument) {
		for _, rec := range doc.Records {
			if rec.DocumentID == p.DocumentID {
				records = append(records, rec)
			}
		}
	})

	results := make([]MatchResult, 0, len(records))
	best := MatchResult{Score: -1}
	for _, rec := range records {
		score := scoreLeak(rec, p.LeakedText)
		results = append(results, MatchResult{RecipientEmail: rec.RecipientEmail, Score: score})
		if score > best.Score {
			best = MatchResult{RecipientEmail: rec.RecipientEmail, Score: score}
		}
	}

	if best.Score < matchThreshold {
		return IdentifyResult{Matched: false, Confidence: 0, AllScores: results}
	}
	return IdentifyResult{Matched: true, Recipient: best.RecipientEmail, Confidence: best.Score, AllScores: results}
}

func scoreLeak(rec Record, leaked string) float64 {
	zw := scoreZeroWidth(rec.DetectionProfile, leaked)
	hg := scoreHomoglyphs(rec.DetectionProfile, leaked)
	ws := scoreWhitespace(rec.DetectionProfile, leaked)
	spacing := scoreSpacing(rec.DetectionProfile, leaked)
	return (40*zw + 30*hg + 20*ws + 10*spacing) / 100
}

func scoreZeroWidth(profile DetectionProfile, text string) float64 {
	var extracted strings.Builder
	for _, r := range text {
		for _, cp := range zeroWidthCodepoints {
			if r == cp {
				extracted.WriteRune(r)
			}
		}
	}
	if extracted.Len() == 0 {
		return 0
	}

	extractedHash := recoverHexFromZeroWidth(extracted.String())
	expected := profile.ZWEncodedHash
	if extractedHash == expected {
		return 1.0
	}

	n := len(expected)
	if n == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < len(extractedHash) && i < n; i++ {
		if extractedHash[i] == expected[i] {
			matches++
		}
	}
	return float64(matches) / float64(n)
}

func recoverHexFromZeroWidth(s string) string {
	var b strings.Builder
	for _, r := range s {
		for idx, cp := range zeroWidthCodepoints {
			if r == cp {
				b.WriteString(fmt.Sprintf("%x", idx))
			}
		}
	}
	return b.String()
}

func scoreHomoglyphs(profile DetectionProfile, text string) float64 {
	if len(profile.Homoglyphs) == 0 {
		return 1.0
	}
	runes := []rune(text)
	matches := 0
	for _, sub := range profile.Homoglyphs {
		if sub.Position < len(runes) && string(runes[sub.Position]) == sub.Replacement {
			matches++
		}
	}
	return float64(matches) / float64(len(profile.Homoglyphs))
}

func scoreWhitespace(profile DetectionProfile, text string) float64 {
	if len(profile.Whitespace) == 0 {
		return 1.0
	}
	runes := []rune(text)
	matches := 0
	for _, sub := range profile.Whitespace {
		if sub.Position < len(runes) && string(runes[sub.Position]) == sub.Replacement {
			matches++
		}
	}
	return float64(matches) / float64(len(profile.Whitespace))
}

func scoreSpacing(profile DetectionProfile, text string) float64 {
	if len(profile.SpacingPattern) == 0 {
		return 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	// The CSS pattern rarely survives a plain-text leak verbatim; award
	// partial credit only for word-count plausibility.
	diff := len(words) - len(profile.SpacingPattern)
	if diff < 0 {
		diff = -diff
	}
	if diff == 0 {
		return 1.0
	}
	ratio := 1.0 - float64(diff)/float64(len(profile.SpacingPattern))
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}
