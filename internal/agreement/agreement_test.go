package agreement

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "agreements.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestTransitionStatusFollowsGraph(t *testing.T) {
	e := newTestEngine(t)
	agr, err := e.CreateAgreement(CreateParams{AgreementID: "agr-1", DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}
	if agr.Status != StatusDraft {
		t.Fatalf("expected draft status, got %s", agr.Status)
	}

	agr, err = e.TransitionStatus(TransitionParams{AgreementID: "agr-1", NewStatus: StatusPendingSignature, Actor: "alice"})
	if err != nil {
		t.Fatalf("transition to pending-signature: %v", err)
	}
	agr, err = e.TransitionStatus(TransitionParams{AgreementID: "agr-1", NewStatus: StatusSigned, Actor: "alice"})
	if err != nil {
		t.Fatalf("transition to signed: %v", err)
	}
	agr, err = e.TransitionStatus(TransitionParams{AgreementID: "agr-1", NewStatus: StatusActive, Actor: "alice"})
	if err != nil {
		t.Fatalf("transition to active: %v", err)
	}
	if agr.Status != StatusActive {
		t.Fatalf("expected active, got %s", agr.Status)
	}
	if len(agr.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(agr.History))
	}
}

func TestTransitionStatusRejectsIllegalPair(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.CreateAgreement(CreateParams{AgreementID: "agr-2", DocumentID: "doc-2"}); err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}
	_, err := e.TransitionStatus(TransitionParams{AgreementID: "agr-2", NewStatus: StatusActive, Actor: "bob"})
	if err == nil {
		t.Fatalf("expected draft -> active to be rejected")
	}
}

func TestArchivedHasNoOutgoingTransitions(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.CreateAgreement(CreateParams{AgreementID: "agr-3", DocumentID: "doc-3"}); err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}
	if _, err := e.TransitionStatus(TransitionParams{AgreementID: "agr-3", NewStatus: StatusArchived, Actor: "bob"}); err != nil {
		t.Fatalf("transition to archived: %v", err)
	}
	_, err := e.TransitionStatus(TransitionParams{AgreementID: "agr-3", NewStatus: StatusDraft, Actor: "bob"})
	if err == nil {
		t.Fatalf("expected no outgoing transitions from archived")
	}
}

func TestGetOverdueObligationsFlipsStatus(t *testing.T) {
	e := newTestEngine(t)
	past := time.Now().UTC().Add(-24 * time.Hour)
	_, err := e.CreateAgreement(CreateParams{
		AgreementID: "agr-4",
		DocumentID:  "doc-4",
		Obligations: []Obligation{
			{ObligationID: "ob-1", Description: "deliver goods", Assignee: "vendor", DueDate: past, Status: ObligationPending},
		},
	})
	if err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}
	if _, err := e.TransitionStatus(TransitionParams{AgreementID: "agr-4", NewStatus: StatusPendingSignature, Actor: "a"}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	found, err := e.GetOverdueObligations()
	if err != nil {
		t.Fatalf("GetOverdueObligations: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 overdue obligation, got %d", len(found))
	}
	if found[0].Obligation.Status != ObligationOverdue {
		t.Fatalf("expected obligation status overdue, got %s", found[0].Obligation.Status)
	}

	agr, err := e.GetAgreement("agr-4")
	if err != nil {
		t.Fatalf("GetAgreement: %v", err)
	}
	if agr.Obligations[0].Status != ObligationOverdue {
		t.Fatalf("expected persisted obligation to be overdue")
	}
}

func TestCheckDeadlinesFlipsMissed(t *testing.T) {
	e := newTestEngine(t)
	past := time.Now().UTC().Add(-time.Hour)
	_, err := e.CreateAgreement(CreateParams{
		AgreementID: "agr-5",
		DocumentID:  "doc-5",
		Deadlines: []Deadline{
			{DeadlineID: "dl-1", Date: past, Type: DeadlineHard, Status: DeadlineUpcoming},
		},
	})
	if err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}

	found, err := e.CheckDeadlines()
	if err != nil {
		t.Fatalf("CheckDeadlines: %v", err)
	}
	if len(found) != 1 || found[0].Deadline.Status != DeadlineMissed {
		t.Fatalf("expected 1 missed deadline, got %+v", found)
	}
}

func TestAddAmendmentHashesContent(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.CreateAgreement(CreateParams{AgreementID: "agr-6", DocumentID: "doc-6"}); err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}
	agr, err := e.AddAmendment("agr-6", Amendment{
		AmendmentID:   "am-1",
		Version:       "v2",
		Description:   "extend term",
		EffectiveDate: time.Now().UTC(),
		Approvers:     []string{"alice"},
	})
	if err != nil {
		t.Fatalf("AddAmendment: %v", err)
	}
	if len(agr.Amendments) != 1 || agr.Amendments[0].ContentHash == "" {
		t.Fatalf("expected amendment with a computed content hash, got %+v", agr.Amendments)
	}
}
