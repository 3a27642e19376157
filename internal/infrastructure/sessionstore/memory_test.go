package sessionstore

import (
	"context"
	"testing"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
)

func TestPutGetReturnsIsolatedCopies(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	session := &domain.CaseSession{
		CaseID: "case-1",
		Intake: domain.PatientIntake{Complaint: "chest pain", Vitals: map[string]string{"hr": "110"}},
		QA:     []domain.QATurn{{Question: "q1", Answer: "a1"}},
	}
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// mutating the original after Put must not leak into the store
	session.QA[0].Answer = "mutated"
	session.Intake.Vitals["hr"] = "999"

	got, ok, err := store.Get(ctx, "case-1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	if got.QA[0].Answer != "a1" || got.Intake.Vitals["hr"] != "110" {
		t.Fatalf("stored session was mutated: %+v", got)
	}

	// mutating the returned copy must not affect a later Get
	got.QA = append(got.QA, domain.QATurn{Question: "q2", Answer: "a2"})
	again, _, _ := store.Get(ctx, "case-1")
	if len(again.QA) != 1 {
		t.Fatalf("returned copy leaked into store: %+v", again.QA)
	}
}

func TestGetMissing(t *testing.T) {
	store := NewMemory()
	_, ok, err := store.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing session")
	}
}

func TestDelete(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_ = store.Put(ctx, &domain.CaseSession{CaseID: "case-1"})

	if err := store.Delete(ctx, "case-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "case-1"); ok {
		t.Fatalf("session still present after delete")
	}
	if store.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", store.Len())
	}
}

func TestPutRejectsMissingCaseID(t *testing.T) {
	store := NewMemory()
	if err := store.Put(context.Background(), &domain.CaseSession{}); err == nil {
		t.Fatalf("expected error for missing case id")
	}
}
