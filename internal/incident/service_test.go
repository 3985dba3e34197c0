package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"coparent-platform/internal/notify"
	"coparent-platform/internal/scheduling"
	"coparent-platform/internal/session"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func liveSession(t *testing.T, clk *clock) (*session.Manager, string) {
	t.Helper()
	m := session.NewManager(session.NewMemoryRepo(), nil, session.Config{})
	// The session package exposes no clock setter; drive it through the
	// invitation window instead: schedule at clk.now so joins are in-window.
	sid, err := m.CreateForInvitation(context.Background(), scheduling.Invitation{
		ID: "inv", FamilyID: "fam", CallerID: "caller", RecipientID: "recipient",
		ProposedTime: time.Now().UTC(), DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.Join(context.Background(), "fam", sid, "caller"); err != nil {
		t.Fatalf("join caller: %v", err)
	}
	if _, err := m.Join(context.Background(), "fam", sid, "recipient"); err != nil {
		t.Fatalf("join recipient: %v", err)
	}
	return m, sid
}

func TestRecordAutoFlag_DedupByFragmentID(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0).UTC()}
	mgr, sid := liveSession(t, clk)
	svc := NewService(NewMemoryRepo(), mgr, nil, nil, Config{})
	svc.clock = clk.Now

	// Simulate a retried ingest: the same fragment evaluated three times.
	if _, err := svc.RecordAutoFlag(context.Background(), "fam", sid, "frag-1", "threatening_language", "you will regret this", 0.92); err != nil {
		t.Fatalf("first flag: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, err := svc.RecordAutoFlag(context.Background(), "fam", sid, "frag-1", "threatening_language", "you will regret this", 0.92)
		if !errors.Is(err, ErrDuplicateIncident) {
			t.Fatalf("retry %d: expected ErrDuplicateIncident, got %v", i, err)
		}
	}

	ledger, err := svc.List(context.Background(), "fam", sid)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("expected exactly one incident, got %d", len(ledger))
	}
	if ledger[0].Kind != KindAutoFlagged || ledger[0].FragmentID != "frag-1" {
		t.Fatalf("unexpected incident: %+v", ledger[0])
	}
}

func TestRecordManualReport_ParticipantsOnly(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0).UTC()}
	mgr, sid := liveSession(t, clk)
	svc := NewService(NewMemoryRepo(), mgr, nil, nil, Config{})
	svc.clock = clk.Now

	_, err := svc.RecordManualReport(context.Background(), "fam", sid, "stranger", ManualReportRequest{Reason: "yelling"})
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	inc, err := svc.RecordManualReport(context.Background(), "fam", sid, "caller", ManualReportRequest{Reason: "yelling", Description: "raised voice"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if inc.Kind != KindManualReport || inc.ReporterID != "caller" {
		t.Fatalf("unexpected incident: %+v", inc)
	}
}

// Scenario: a report filed 90 seconds after end is recorded; one at 3 minutes
// is rejected.
func TestRecordManualReport_GraceWindow(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0).UTC()}
	mgr, sid := liveSession(t, clk)
	svc := NewService(NewMemoryRepo(), mgr, nil, nil, Config{ReportGraceWindow: 2 * time.Minute})
	svc.clock = clk.Now

	endRes, err := mgr.End(context.Background(), "fam", sid, "recipient", session.EndReasonNormal)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	clk.now = endRes.Session.EndedAt.Add(90 * time.Second)

	if _, err := svc.RecordManualReport(context.Background(), "fam", sid, "caller", ManualReportRequest{Reason: "hostile language at hangup"}); err != nil {
		t.Fatalf("report within grace window: %v", err)
	}

	clk.now = endRes.Session.EndedAt.Add(3 * time.Minute)
	_, err = svc.RecordManualReport(context.Background(), "fam", sid, "caller", ManualReportRequest{Reason: "another report"})
	if !errors.Is(err, ErrReportWindowClosed) {
		t.Fatalf("expected ErrReportWindowClosed, got %v", err)
	}

	ledger, _ := svc.List(context.Background(), "fam", sid)
	if len(ledger) != 1 {
		t.Fatalf("expected 1 recorded report, got %d", len(ledger))
	}
}

func TestRecordManualReport_IdenticalRetryDeduped(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0).UTC()}
	mgr, sid := liveSession(t, clk)
	svc := NewService(NewMemoryRepo(), mgr, NewMemoryDeduper(), notify.NewMemory(), Config{})
	svc.clock = clk.Now

	req := ManualReportRequest{Reason: "yelling", Description: "same words"}
	if _, err := svc.RecordManualReport(context.Background(), "fam", sid, "caller", req); err != nil {
		t.Fatalf("first report: %v", err)
	}
	_, err := svc.RecordManualReport(context.Background(), "fam", sid, "caller", req)
	if !errors.Is(err, ErrDuplicateIncident) {
		t.Fatalf("expected ErrDuplicateIncident on identical retry, got %v", err)
	}

	// A different description is a distinct report.
	if _, err := svc.RecordManualReport(context.Background(), "fam", sid, "caller", ManualReportRequest{Reason: "yelling", Description: "different words"}); err != nil {
		t.Fatalf("distinct report: %v", err)
	}
}

func TestList_PreservesInsertionOrder(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0).UTC()}
	mgr, sid := liveSession(t, clk)
	svc := NewService(NewMemoryRepo(), mgr, nil, nil, Config{})
	svc.clock = clk.Now

	if _, err := svc.RecordAutoFlag(context.Background(), "fam", sid, "frag-1", "profanity", "...", 0.8); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if _, err := svc.RecordManualReport(context.Background(), "fam", sid, "recipient", ManualReportRequest{Reason: "interrupting"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := svc.RecordAutoFlag(context.Background(), "fam", sid, "frag-2", "profanity", "...", 0.9); err != nil {
		t.Fatalf("flag 2: %v", err)
	}

	ledger, _ := svc.List(context.Background(), "fam", sid)
	if len(ledger) != 3 {
		t.Fatalf("expected 3 incidents, got %d", len(ledger))
	}
	wantKinds := []Kind{KindAutoFlagged, KindManualReport, KindAutoFlagged}
	for i, k := range wantKinds {
		if ledger[i].Kind != k {
			t.Fatalf("position %d: expected %s, got %s", i, k, ledger[i].Kind)
		}
	}
}
