package attend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cinebot/attend/internal/audit"
	"github.com/cinebot/attend/internal/qualify"
)

// memorySink records audit actions for assertions.
type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memorySink) Record(ctx context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

func TestAddManualAttendance(t *testing.T) {
	sink := &memorySink{}
	e, st, clock := openTestEngine(t, defaultTestSettings(), WithAuditSink(sink))
	ctx := context.Background()

	if _, err := e.StartEvent(ctx, "g1", "c1", "2024-01-15"); err != nil {
		t.Fatalf("StartEvent: %v", err)
	}

	ok, err := e.AddManualAttendance(ctx, "g1", "u1", 25, "admin", "tech issues")
	if err != nil {
		t.Fatalf("AddManualAttendance: %v", err)
	}
	if !ok {
		t.Fatal("credit should apply while an event is live")
	}

	s, found := e.tracker.Session("g1", "u1")
	if !found {
		t.Fatal("session should be created by the credit")
	}
	if s.AccumulatedMinutes != 25 || s.LongestSessionMinutes != 25 {
		t.Errorf("totals = %d/%d, want 25/25", s.AccumulatedMinutes, s.LongestSessionMinutes)
	}

	// The credit was snapshotted immediately.
	sessions, _, err := st.ListSessionSnapshots(ctx, "g1", nil)
	if err != nil {
		t.Fatalf("ListSessionSnapshots: %v", err)
	}
	if len(sessions) != 1 || sessions[0].AccumulatedMinutes != 25 {
		t.Errorf("persisted sessions = %+v, want the 25-minute credit", sessions)
	}

	got := sink.actions()
	if len(got) != 1 || got[0] != "manual_attendance" {
		t.Errorf("audit actions = %v, want [manual_attendance]", got)
	}

	// The credit counts toward finalize.
	clock.Advance(10 * time.Minute)
	res, err := e.FinalizeEvent(ctx, "g1")
	if err != nil {
		t.Fatalf("FinalizeEvent: %v", err)
	}
	if res.Qualified != 0 {
		t.Errorf("qualified = %d, want 0 (25 < 30)", res.Qualified)
	}
}

func TestAddManualAttendance_NoActiveEvent(t *testing.T) {
	e, _, _ := openTestEngine(t, defaultTestSettings())

	ok, err := e.AddManualAttendance(context.Background(), "g1", "u1", 25, "admin", "oops")
	if err != nil {
		t.Fatalf("AddManualAttendance: %v", err)
	}
	if ok {
		t.Error("credit must fail closed with no live event")
	}
}

func TestAddManualAttendance_RejectsNonPositiveMinutes(t *testing.T) {
	e, _, _ := openTestEngine(t, defaultTestSettings())

	for _, minutes := range []int{0, -5} {
		_, err := e.AddManualAttendance(context.Background(), "g1", "u1", minutes, "admin", "bad")
		if !errors.Is(err, ErrInvalidMinutes) {
			t.Errorf("minutes=%d: err = %v, want ErrInvalidMinutes", minutes, err)
		}
	}
}

func TestCreditHistoricalAttendance_CreatesRecord(t *testing.T) {
	e, _, _ := openTestEngine(t, defaultTestSettings())
	ctx := context.Background()

	rec, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-08", 40, "admin", "was present, bot was down")
	if err != nil {
		t.Fatalf("CreditHistoricalAttendance: %v", err)
	}
	if rec.DurationMinutes != 40 || rec.LongestSessionMinutes != 40 {
		t.Errorf("record = %d/%d, want 40/40", rec.DurationMinutes, rec.LongestSessionMinutes)
	}
	if !rec.Qualified {
		t.Error("40 minutes should qualify under cumulative threshold 30")
	}
	if rec.CreditedBy != "admin" {
		t.Errorf("CreditedBy = %q, want admin", rec.CreditedBy)
	}

	stored, err := e.store.GetAttendance(ctx, "g1", "u1", "2024-01-08")
	if err != nil {
		t.Fatalf("GetAttendance: %v", err)
	}
	if stored.DurationMinutes != 40 || !stored.Qualified {
		t.Errorf("stored = %+v, want durable 40 qualified minutes", stored)
	}
}

func TestCreditHistoricalAttendance_AddsToExisting(t *testing.T) {
	e, _, _ := openTestEngine(t, defaultTestSettings())
	ctx := context.Background()

	if _, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-08", 20, "admin", "partial"); err != nil {
		t.Fatalf("first credit: %v", err)
	}
	rec, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-08", 15, "admin", "rest")
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if rec.DurationMinutes != 35 {
		t.Errorf("DurationMinutes = %d, want 35", rec.DurationMinutes)
	}
	if rec.LongestSessionMinutes != 20 {
		t.Errorf("LongestSessionMinutes = %d, want 20 (max of the credits)", rec.LongestSessionMinutes)
	}
	if !rec.Qualified {
		t.Error("35 cumulative minutes should now qualify")
	}
}

func TestCreditHistoricalAttendance_ContinuousMode(t *testing.T) {
	settings := StaticSettings{
		Defaults: GuildSettings{Mode: qualify.ModeContinuous, ThresholdMinutes: 30},
	}
	e, _, _ := openTestEngine(t, settings)
	ctx := context.Background()

	// Two 20-minute credits: 40 cumulative but no 30-minute stretch.
	if _, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-08", 20, "admin", "a"); err != nil {
		t.Fatalf("first credit: %v", err)
	}
	rec, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-08", 20, "admin", "b")
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if rec.Qualified {
		t.Error("continuous mode must judge the longest single credit, not the sum")
	}
}

func TestCreditHistoricalAttendance_Validation(t *testing.T) {
	e, _, _ := openTestEngine(t, defaultTestSettings())
	ctx := context.Background()

	if _, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "bad-date", 10, "admin", "x"); !errors.Is(err, ErrInvalidEventDate) {
		t.Errorf("err = %v, want ErrInvalidEventDate", err)
	}
	if _, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-08", 0, "admin", "x"); !errors.Is(err, ErrInvalidMinutes) {
		t.Errorf("err = %v, want ErrInvalidMinutes", err)
	}
}

func TestBumpAttendance(t *testing.T) {
	sink := &memorySink{}
	e, _, _ := openTestEngine(t, defaultTestSettings(), WithAuditSink(sink))
	ctx := context.Background()

	res, err := e.BumpAttendance(ctx, "g1", "u1", "2024-01-08", "admin", "helped run the event")
	if err != nil {
		t.Fatalf("BumpAttendance: %v", err)
	}
	if !res.Created || res.PreviouslyQualified {
		t.Errorf("result = %+v, want created", res)
	}

	rec, err := e.store.GetAttendance(ctx, "g1", "u1", "2024-01-08")
	if err != nil {
		t.Fatalf("GetAttendance: %v", err)
	}
	if !rec.Qualified {
		t.Error("bumped record must be qualified")
	}
	if rec.DurationMinutes != 30 {
		t.Errorf("DurationMinutes = %d, want raised to threshold 30", rec.DurationMinutes)
	}
}

func TestBumpAttendance_AlreadyQualifiedWritesNothing(t *testing.T) {
	e, _, _ := openTestEngine(t, defaultTestSettings())
	ctx := context.Background()

	if _, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-08", 50, "admin", "real minutes"); err != nil {
		t.Fatalf("CreditHistoricalAttendance: %v", err)
	}

	res, err := e.BumpAttendance(ctx, "g1", "u1", "2024-01-08", "admin", "redundant")
	if err != nil {
		t.Fatalf("BumpAttendance: %v", err)
	}
	if res.Created || !res.PreviouslyQualified {
		t.Errorf("result = %+v, want previously qualified, nothing created", res)
	}

	rec, err := e.store.GetAttendance(ctx, "g1", "u1", "2024-01-08")
	if err != nil {
		t.Fatalf("GetAttendance: %v", err)
	}
	if rec.DurationMinutes != 50 {
		t.Errorf("DurationMinutes = %d, want the original 50 untouched", rec.DurationMinutes)
	}
}

func TestBumpAttendance_RaisesUnqualifiedRecord(t *testing.T) {
	e, _, _ := openTestEngine(t, defaultTestSettings())
	ctx := context.Background()

	if _, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-08", 10, "admin", "short"); err != nil {
		t.Fatalf("CreditHistoricalAttendance: %v", err)
	}

	res, err := e.BumpAttendance(ctx, "g1", "u1", "2024-01-08", "admin", "bump anyway")
	if err != nil {
		t.Fatalf("BumpAttendance: %v", err)
	}
	if !res.Created {
		t.Errorf("result = %+v, want created", res)
	}

	rec, err := e.store.GetAttendance(ctx, "g1", "u1", "2024-01-08")
	if err != nil {
		t.Fatalf("GetAttendance: %v", err)
	}
	if !rec.Qualified || rec.DurationMinutes != 30 {
		t.Errorf("record = %+v, want qualified at threshold", rec)
	}
}

func TestQualifiedEventCount(t *testing.T) {
	e, _, _ := openTestEngine(t, defaultTestSettings())
	ctx := context.Background()

	for _, date := range []string{"2024-01-01", "2024-01-08", "2024-01-15"} {
		if _, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", date, 45, "admin", "backfill"); err != nil {
			t.Fatalf("credit %s: %v", date, err)
		}
	}
	// One non-qualifying date must not count.
	if _, err := e.CreditHistoricalAttendance(ctx, "g1", "u1", "2024-01-22", 5, "admin", "brief"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	count, err := e.QualifiedEventCount(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("QualifiedEventCount: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
