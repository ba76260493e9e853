package cidregistry

import (
	"fmt"
	"time"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/store"
)

// Event is one entry in the single global hash chain covering every
// document this engine touches.
type Event struct {
	Sequence          uint64    `json:"sequence"`
	Action            string    `json:"action"`
	Actor             string    `json:"actor"`
	Timestamp         time.Time `json:"timestamp"`
	Details           string    `json:"details,omitempty"`
	Fingerprint       string    `json:"fingerprint,omitempty"`
	CID               string    `json:"cid,omitempty"`
	PreviousChainHash string    `json:"previousChainHash"`
	ChainHash         string    `json:"chainHash"`
}

type eventDocument struct {
	Engine  string  `json:"engine"`
	Version int     `json:"version"`
	Events  []Event `json:"events"`
}

func freshEventDocument() eventDocument {
	return eventDocument{Engine: "doc-sovereign-engine-events", Version: 1, Events: []Event{}}
}

// EventLog is the append-only, globally hash-chained audit trail.
type EventLog struct {
	store *store.Store[eventDocument]
}

// OpenEventLog loads (or creates) the event log file at path.
func OpenEventLog(path string) (*EventLog, error) {
	s, err := store.Open(path, freshEventDocument)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	return &EventLog{store: s}, nil
}

// AppendParams is the input to Append.
type AppendParams struct {
	Action      string
	Actor       string
	Details     string
	Fingerprint string
	CID         string
}

// Append records a new event, chaining it to the previous entry's hash.
func (l *EventLog) Append(p AppendParams) (Event, error) {
	var out Event
	err := l.store.Update(func(doc *eventDocument) error {
		seq := uint64(len(doc.Events)) + 1
		prev := canon.GenesisMarker
		if len(doc.Events) > 0 {
			prev = doc.Events[len(doc.Events)-1].ChainHash
		}

		evt := Event{
			Sequence:          seq,
			Action:            p.Action,
			Actor:             p.Actor,
			Timestamp:         time.Now().UTC(),
			Details:           p.Details,
			Fingerprint:       p.Fingerprint,
			CID:               p.CID,
			PreviousChainHash: prev,
		}
		evt.ChainHash = computeChainHash(evt)
		doc.Events = append(doc.Events, evt)
		out = evt
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return out, nil
}

func computeChainHash(e Event) string {
	return canon.JoinHash(
		canon.Uint64(e.Sequence),
		e.Action,
		e.Actor,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Details,
		e.Fingerprint,
		e.CID,
		e.PreviousChainHash,
	)
}

// VerifyChainReport is the result of walking the event log end to end.
type VerifyChainReport struct {
	Valid       bool     `json:"valid"`
	EventCount  int      `json:"eventCount"`
	BrokenAt    []uint64 `json:"brokenAt,omitempty"`
	Issues      []string `json:"issues,omitempty"`
}

// VerifyChain walks the entire event log, recomputing each chainHash and
// confirming previousChainHash references.
func (l *EventLog) VerifyChain() VerifyChainReport {
	report := VerifyChainReport{Valid: true}
	l.store.View(func(doc *eventDocument) {
		report.EventCount = len(doc.Events)
		prev := canon.GenesisMarker
		for i, evt := range doc.Events {
			if evt.Sequence != uint64(i+1) {
				report.Valid = false
				report.BrokenAt = append(report.BrokenAt, evt.Sequence)
				report.Issues = append(report.Issues, fmt.Sprintf("event at index %d has sequence %d, expected %d", i, evt.Sequence, i+1))
			}
			if evt.PreviousChainHash != prev {
				report.Valid = false
				report.BrokenAt = append(report.BrokenAt, evt.Sequence)
				report.Issues = append(report.Issues, fmt.Sprintf("event %d: previousChainHash does not match prior entry", evt.Sequence))
			}
			if computeChainHash(evt) != evt.ChainHash {
				report.Valid = false
				report.BrokenAt = append(report.BrokenAt, evt.Sequence)
				report.Issues = append(report.Issues, fmt.Sprintf("event %d: chainHash does not match recomputation", evt.Sequence))
			}
			prev = evt.ChainHash
		}
	})
	return report
}

// Events returns a defensive copy of the full event list.
func (l *EventLog) Events() []Event {
	var out []Event
	l.store.View(func(doc *eventDocument) {
		out = make([]Event, len(doc.Events))
		copy(out, doc.Events)
	})
	return out
}
