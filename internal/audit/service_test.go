package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresFamilyAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeLedgerAccess}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{FamilyID: "fam-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogLedgerAccess(context.Background(), "fam-1", "auditor-1", "case_auditor", "1.2.3.4", "sess-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].Type != EventTypeLedgerAccess {
		t.Fatalf("expected ledger_access")
	}
}
