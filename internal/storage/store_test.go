package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/aiwater/internal/dynamo"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sessionEvents(id string, start time.Time) []dynamo.Event {
	return []dynamo.Event{
		{Kind: dynamo.EventAdmitted, SessionID: id, Time: start, Cost: 0.0001, Duration: 2, Rate: 1e-5},
		{Kind: dynamo.EventDropped, SessionID: id, Time: start.Add(time.Second), Cost: 0.000001, Mass: 1e-5},
		{Kind: dynamo.EventPreempted, SessionID: id, Time: start.Add(1500 * time.Millisecond), Duration: 2, Rate: 1e-5, Mass: 1.5e-5},
		{Kind: dynamo.EventAdmitted, SessionID: id, Time: start.Add(1500 * time.Millisecond), Cost: 0.00005, Duration: 1, Rate: 1e-5, Baseline: 1.5e-5, Mass: 1.5e-5},
		{Kind: dynamo.EventCompleted, SessionID: id, Time: start.Add(2500 * time.Millisecond), Duration: 1, Rate: 1e-5, Baseline: 1.5e-5, Mass: 2.5e-5},
	}
}

func TestStoreRecordLoad(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	for _, ev := range sessionEvents("s1", start) {
		if err := st.Record(ctx, ev); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	meta, err := st.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Events != 2 {
		t.Errorf("expected 2 admitted events, got %d", meta.Events)
	}
	if d := meta.TotalCost - 0.00015; d > 1e-15 || d < -1e-15 {
		t.Errorf("expected total cost 0.00015, got %g", meta.TotalCost)
	}
	if meta.Mass != 2.5e-5 {
		t.Errorf("expected mass 2.5e-5, got %g", meta.Mass)
	}
	if !meta.StartedAt.Equal(start) {
		t.Errorf("expected start %v, got %v", start, meta.StartedAt)
	}

	events, err := st.LoadEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("load events failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[2].Kind != dynamo.EventPreempted || !events[2].Time.Equal(start.Add(1500*time.Millisecond)) {
		t.Errorf("unexpected event %+v", events[2])
	}
}

func TestStoreNotFound(t *testing.T) {
	st := newStore(t)
	if _, err := st.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.LoadEvents(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreList(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		ev := dynamo.Event{Kind: dynamo.EventReset, SessionID: id, Time: base.Add(time.Duration(i) * time.Hour)}
		if err := st.Record(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := st.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" {
		t.Errorf("expected newest first, got %+v", sessions)
	}
}

func TestStoreListUninitialised(t *testing.T) {
	sessions, err := New(t.TempDir()).List(context.Background())
	if err != nil || len(sessions) != 0 {
		t.Errorf("expected empty list, got %v, %v", sessions, err)
	}
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()
	st := New(dir)
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	if err := st.Record(context.Background(), dynamo.Event{Kind: dynamo.EventReset, SessionID: "keep", Time: time.Now()}); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st = New(dir)
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, err := st.Load(context.Background(), "keep"); err != nil {
		t.Errorf("session lost across reopen: %v", err)
	}
}

func TestRecorderRun(t *testing.T) {
	st := newStore(t)
	rec := NewRecorder(st, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	for _, ev := range sessionEvents("r1", time.Now()) {
		rec.OnEvent(ev)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	events, err := st.LoadEvents(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Errorf("expected 5 recorded events, got %d", len(events))
	}
	if rec.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", rec.Dropped())
	}
}

func TestRecorderOverflow(t *testing.T) {
	rec := NewRecorder(New(t.TempDir()), 1, nil)
	rec.OnEvent(dynamo.Event{Kind: dynamo.EventReset, SessionID: "a"})
	rec.OnEvent(dynamo.Event{Kind: dynamo.EventReset, SessionID: "b"})
	if rec.Dropped() != 1 {
		t.Errorf("expected 1 drop, got %d", rec.Dropped())
	}
}

func TestMassSeries(t *testing.T) {
	times, mass := MassSeries(sessionEvents("m", time.Unix(100, 0)))
	if len(times) != 4 {
		t.Fatalf("expected dropped event skipped, got %d samples", len(times))
	}
	if times[0] != 0 || times[3] != 2.5 {
		t.Errorf("unexpected times %v", times)
	}
	if mass[3] != 2.5e-5 {
		t.Errorf("unexpected mass %v", mass)
	}
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.csv")
	if err := ExportCSV(path, sessionEvents("c", time.Unix(0, 0))); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 6 {
		t.Errorf("expected header plus 5 rows, got %d", len(records))
	}
	if records[0][6] != "mass" || records[5][1] != "completed" {
		t.Errorf("unexpected csv %v", records)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	meta := SessionMetadata{ID: "j", Events: 2}
	if err := WriteJSON(&buf, meta, sessionEvents("j", time.Unix(0, 0))); err != nil {
		t.Fatal(err)
	}

	var out ExportData
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out.Session.ID != "j" || len(out.Events) != 5 || len(out.Mass) != 4 {
		t.Errorf("unexpected export %+v", out)
	}
}
