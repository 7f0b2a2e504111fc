package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageSendToFirstReply, 500)
	w.Observe(StageSendToFirstReply, 700)
	w.Observe(StageSendToFirstReply, 900)
	w.ObserveIndicator("transport_reconnect")
	w.ObserveIndicator("transport_reconnect")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != string(StageSendToFirstReply) {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageSendToFirstReply)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS != 900 {
		t.Fatalf("P95MS = %.2f, want 900", s.P95MS)
	}
	if s.TargetP95MS != 900 {
		t.Fatalf("TargetP95MS = %.2f, want 900", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "transport_reconnect" {
		t.Fatalf("Indicators[0].Name = %q, want %q", snap.Indicators[0].Name, "transport_reconnect")
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}
}

func TestStageWindowKeepsPipelineOrder(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageSendToReplyDone, 1200)
	w.Observe(StageControlToState, 5)

	snap := w.Snapshot()
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if snap.Stages[0].Stage != string(StageControlToState) {
		t.Fatalf("Stages[0] = %q, want %q", snap.Stages[0].Stage, StageControlToState)
	}
	if snap.Stages[1].Stage != string(StageSendToReplyDone) {
		t.Fatalf("Stages[1] = %q, want %q", snap.Stages[1].Stage, StageSendToReplyDone)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := newStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageControlToState, float64(i))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.LastMS != 9 {
		t.Fatalf("LastMS = %.2f, want 9", s.LastMS)
	}
}

func TestStageWindowIgnoresInvalidObservations(t *testing.T) {
	w := newStageWindow(4)
	w.Observe(Stage("not_a_stage"), 10)
	w.Observe(StageControlToState, -1)
	w.ObserveIndicator("  ")

	snap := w.Snapshot()
	if len(snap.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(snap.Stages))
	}
	if len(snap.Indicators) != 0 {
		t.Fatalf("len(Indicators) = %d, want 0", len(snap.Indicators))
	}
}
