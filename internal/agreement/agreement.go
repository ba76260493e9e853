// Package agreement implements the Agreement State Engine (§4.12):
// post-signing obligation, payment, and deadline tracking governed by a
// fixed status transition graph.
package agreement

import (
	"errors"
	"fmt"
	"time"

	"github.com/doc-sovereign/engine/internal/canon"
	"github.com/doc-sovereign/engine/internal/store"
)

// Status is the lifecycle state of a post-signature agreement.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingReview     Status = "pending-review"
	StatusPendingSignature  Status = "pending-signature"
	StatusSigned            Status = "signed"
	StatusActive            Status = "active"
	StatusAmended           Status = "amended"
	StatusBreached          Status = "breached"
	StatusDisputed          Status = "disputed"
	StatusTerminated        Status = "terminated"
	StatusCompleted         Status = "completed"
	StatusExpired           Status = "expired"
	StatusArchived          Status = "archived"
)

// transitionGraph enumerates every legal (from, to) pair per §4.12. Any pair
// absent from this map is rejected.
var transitionGraph = map[Status]map[Status]bool{
	StatusDraft:            {StatusPendingReview: true, StatusPendingSignature: true, StatusArchived: true},
	StatusPendingReview:    {StatusDraft: true, StatusPendingSignature: true, StatusArchived: true},
	StatusPendingSignature: {StatusSigned: true, StatusDraft: true, StatusArchived: true},
	StatusSigned:           {StatusActive: true, StatusArchived: true},
	StatusActive: {
		StatusAmended: true, StatusBreached: true, StatusDisputed: true,
		StatusCompleted: true, StatusTerminated: true, StatusExpired: true,
	},
	StatusAmended:   {StatusActive: true, StatusBreached: true, StatusDisputed: true, StatusTerminated: true},
	StatusBreached:  {StatusDisputed: true, StatusTerminated: true, StatusActive: true},
	StatusDisputed:  {StatusActive: true, StatusTerminated: true, StatusBreached: true},
	StatusTerminated: {StatusArchived: true},
	StatusCompleted:  {StatusArchived: true},
	StatusExpired:    {StatusArchived: true, StatusActive: true},
	StatusArchived:   {},
}

var terminalStatuses = map[Status]bool{
	StatusTerminated: true,
	StatusCompleted:  true,
	StatusArchived:   true,
}

// Sentinel errors.
var (
	ErrNotFound           = errors.New("agreement: record not found")
	ErrInvalidTransition  = errors.New("agreement: transition not permitted")
)

// ObligationStatus enumerates an obligation's lifecycle.
type ObligationStatus string

const (
	ObligationPending  ObligationStatus = "pending"
	ObligationFulfilled ObligationStatus = "fulfilled"
	ObligationOverdue  ObligationStatus = "overdue"
	ObligationWaived   ObligationStatus = "waived"
	ObligationBreached ObligationStatus = "breached"
)

// Obligation is a post-signature duty owed by a party.
type Obligation struct {
	ObligationID string           `json:"obligationId"`
	Description  string           `json:"description"`
	Assignee     string           `json:"assignee"`
	DueDate      time.Time        `json:"dueDate"`
	Status       ObligationStatus `json:"status"`
}

// PaymentTriggerStatus enumerates a payment trigger's lifecycle.
type PaymentTriggerStatus string

const (
	PaymentPending   PaymentTriggerStatus = "pending"
	PaymentTriggered PaymentTriggerStatus = "triggered"
	PaymentPaid      PaymentTriggerStatus = "paid"
	PaymentOverdue   PaymentTriggerStatus = "overdue"
	PaymentDisputed  PaymentTriggerStatus = "disputed"
)

// PaymentTrigger is a conditional payment obligation.
type PaymentTrigger struct {
	TriggerID string               `json:"triggerId"`
	Amount    float64              `json:"amount"`
	Currency  string               `json:"currency"`
	Condition string               `json:"condition"`
	DueDate   time.Time            `json:"dueDate"`
	Status    PaymentTriggerStatus `json:"status"`
}

// DeadlineType distinguishes hard, soft, and recurring deadlines.
type DeadlineType string

const (
	DeadlineHard      DeadlineType = "hard"
	DeadlineSoft      DeadlineType = "soft"
	DeadlineRecurring DeadlineType = "recurring"
)

// DeadlineStatus enumerates a deadline's lifecycle.
type DeadlineStatus string

const (
	DeadlineUpcoming DeadlineStatus = "upcoming"
	DeadlineMet      DeadlineStatus = "met"
	DeadlineMissed   DeadlineStatus = "missed"
	DeadlineExtended DeadlineStatus = "extended"
)

// Deadline is a date-bound milestone on the agreement.
type Deadline struct {
	DeadlineID string         `json:"deadlineId"`
	Date       time.Time      `json:"date"`
	Type       DeadlineType   `json:"type"`
	Status     DeadlineStatus `json:"status"`
}

// Amendment records a modification to the agreement's terms.
type Amendment struct {
	AmendmentID       string    `json:"amendmentId"`
	Version           string    `json:"version"`
	Description       string    `json:"description"`
	EffectiveDate     time.Time `json:"effectiveDate"`
	Approvers         []string  `json:"approvers"`
	ContentHash       string    `json:"contentHash"`
	PredecessorVersion string   `json:"predecessorVersion,omitempty"`
}

// TransitionEntry is one entry in an agreement's status history.
type TransitionEntry struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Evidence  string    `json:"evidence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Agreement is the post-signing artifact tracked by this engine.
type Agreement struct {
	AgreementID string             `json:"agreementId"`
	DocumentID  string             `json:"documentId"`
	Status      Status             `json:"status"`
	Obligations []Obligation       `json:"obligations"`
	Payments    []PaymentTrigger   `json:"payments"`
	Deadlines   []Deadline         `json:"deadlines"`
	Amendments  []Amendment        `json:"amendments"`
	History     []TransitionEntry  `json:"history"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type agreementDocument struct {
	Engine      string               `json:"engine"`
	Version     int                  `json:"version"`
	Agreements  map[string]Agreement `json:"agreements"`
}

func freshAgreementDocument() agreementDocument {
	return agreementDocument{Engine: "doc-sovereign-engine-agreement", Version: 1, Agreements: map[string]Agreement{}}
}

// Engine owns agreement records.
type Engine struct {
	store *store.Store[agreementDocument]
}

// Open loads (or creates) the agreement store at path.
func Open(path string) (*Engine, error) {
	s, err := store.Open(path, freshAgreementDocument)
	if err != nil {
		return nil, fmt.Errorf("agreement: open: %w", err)
	}
	return &Engine{store: s}, nil
}

// CreateParams is the input to CreateAgreement.
type CreateParams struct {
	AgreementID string
	DocumentID  string
	Obligations []Obligation
	Payments    []PaymentTrigger
	Deadlines   []Deadline
}

// CreateAgreement registers a new agreement in draft status. Idempotent on
// agreementId.
func (e *Engine) CreateAgreement(p CreateParams) (Agreement, error) {
	var out Agreement
	err := e.store.Update(func(doc *agreementDocument) error {
		if existing, ok := doc.Agreements[p.AgreementID]; ok {
			out = existing
			return nil
		}
		now := time.Now().UTC()
		agr := Agreement{
			AgreementID: p.AgreementID,
			DocumentID:  p.DocumentID,
			Status:      StatusDraft,
			Obligations: p.Obligations,
			Payments:    p.Payments,
			Deadlines:   p.Deadlines,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		doc.Agreements[p.AgreementID] = agr
		out = agr
		return nil
	})
	return out, err
}

// TransitionParams is the input to TransitionStatus.
type TransitionParams struct {
	AgreementID string
	NewStatus   Status
	Actor       string
	Reason      string
	Evidence    string
}

// TransitionStatus is the only way to change an agreement's status. It
// validates (from, to) against the fixed transition graph.
func (e *Engine) TransitionStatus(p TransitionParams) (Agreement, error) {
	var out Agreement
	err := e.store.Update(func(doc *agreementDocument) error {
		agr, ok := doc.Agreements[p.AgreementID]
		if !ok {
			return ErrNotFound
		}
		allowed := transitionGraph[agr.Status]
		if !allowed[p.NewStatus] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, agr.Status, p.NewStatus)
		}
		now := time.Now().UTC()
		agr.History = append(agr.History, TransitionEntry{
			From: agr.Status, To: p.NewStatus, Actor: p.Actor,
			Reason: p.Reason, Evidence: p.Evidence, Timestamp: now,
		})
		agr.Status = p.NewStatus
		agr.UpdatedAt = now
		doc.Agreements[p.AgreementID] = agr
		out = agr
		return nil
	})
	return out, err
}

// GetAgreement returns the agreement by id.
func (e *Engine) GetAgreement(agreementID string) (Agreement, error) {
	var out Agreement
	found := false
	e.store.View(func(doc *agreementDocument) {
		if agr, ok := doc.Agreements[agreementID]; ok {
			out, found = agr, true
		}
	})
	if !found {
		return Agreement{}, ErrNotFound
	}
	return out, nil
}

// OverdueObligation pairs an obligation with the agreement it belongs to.
type OverdueObligation struct {
	AgreementID string     `json:"agreementId"`
	Obligation  Obligation `json:"obligation"`
}

// GetOverdueObligations walks non-terminal agreements, flips any pending
// obligation whose due date has passed to overdue, persists, and returns the
// findings.
func (e *Engine) GetOverdueObligations() ([]OverdueObligation, error) {
	var found []OverdueObligation
	now := time.Now().UTC()
	err := e.store.Update(func(doc *agreementDocument) error {
		for id, agr := range doc.Agreements {
			if terminalStatuses[agr.Status] {
				continue
			}
			changed := false
			for i := range agr.Obligations {
				ob := &agr.Obligations[i]
				if ob.Status == ObligationPending && now.After(ob.DueDate) {
					ob.Status = ObligationOverdue
					changed = true
					found = append(found, OverdueObligation{AgreementID: id, Obligation: *ob})
				}
			}
			if changed {
				agr.UpdatedAt = now
				doc.Agreements[id] = agr
			}
		}
		return nil
	})
	return found, err
}

// DeadlineFinding pairs a deadline with the agreement it belongs to.
type DeadlineFinding struct {
	AgreementID string   `json:"agreementId"`
	Deadline    Deadline `json:"deadline"`
}

// CheckDeadlines walks non-terminal agreements, flips any upcoming deadline
// whose date has passed to missed (recurring deadlines are left for the
// caller to re-schedule), persists, and returns the findings.
func (e *Engine) CheckDeadlines() ([]DeadlineFinding, error) {
	var found []DeadlineFinding
	now := time.Now().UTC()
	err := e.store.Update(func(doc *agreementDocument) error {
		for id, agr := range doc.Agreements {
			if terminalStatuses[agr.Status] {
				continue
			}
			changed := false
			for i := range agr.Deadlines {
				dl := &agr.Deadlines[i]
				if dl.Status == DeadlineUpcoming && now.After(dl.Date) {
					dl.Status = DeadlineMissed
					changed = true
					found = append(found, DeadlineFinding{AgreementID: id, Deadline: *dl})
				}
			}
			if changed {
				agr.UpdatedAt = now
				doc.Agreements[id] = agr
			}
		}
		return nil
	})
	return found, err
}

// AddAmendment appends an amendment to the agreement's history, hashing its
// content deterministically.
func (e *Engine) AddAmendment(agreementID string, a Amendment) (Agreement, error) {
	var out Agreement
	err := e.store.Update(func(doc *agreementDocument) error {
		agr, ok := doc.Agreements[agreementID]
		if !ok {
			return ErrNotFound
		}
		if a.ContentHash == "" {
			a.ContentHash = canon.JoinHash(agreementID, a.Version, a.Description, a.EffectiveDate.Format(time.RFC3339Nano))
		}
		agr.Amendments = append(agr.Amendments, a)
		agr.UpdatedAt = time.Now().UTC()
		doc.Agreements[agreementID] = agr
		out = agr
		return nil
	})
	return out, err
}
