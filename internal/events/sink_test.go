package events

import (
	"testing"

	"videra/pkg/models"
)

func TestGuardDropsEventsAfterTerminal(t *testing.T) {
	rec := &Recorder{}
	g := NewGuard(rec)

	g.Emit(Progress(10, "working"))
	g.Emit(Failure("boom"))
	g.Emit(Progress(20, "late"))
	g.Emit(Done("/compressed/x.mp4"))

	got := rec.Events()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[1].Type != models.EventError || got[1].Message != "boom" {
		t.Fatalf("last event = %+v, want error boom", got[1])
	}
	if !g.Closed() {
		t.Fatal("guard should be closed after terminal event")
	}
}

func TestTeeForwardsToAll(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := Tee(a, nil, b)
	sink.Emit(Done("/compressed/out.mp4"))

	for i, rec := range []*Recorder{a, b} {
		got := rec.Events()
		if len(got) != 1 || got[0].DownloadURL != "/compressed/out.mp4" {
			t.Fatalf("sink %d got %+v", i, got)
		}
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		event models.Event
		want  bool
	}{
		{Progress(50, "x"), false},
		{Done("/a"), true},
		{Failure("b"), true},
	}
	for _, tt := range tests {
		if got := tt.event.Terminal(); got != tt.want {
			t.Fatalf("%s Terminal() = %v, want %v", tt.event.Type, got, tt.want)
		}
	}
}
