package telemetry

import (
	"testing"

	"github.com/fleetwire/relayhub/pkg/envelope"
)

type recordingSink struct{ got []envelope.Envelope }

func (s *recordingSink) Enqueue(e envelope.Envelope) error {
	s.got = append(s.got, e)
	return nil
}

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	b := New(3)
	for seq := 1; seq <= 5; seq++ {
		b.Append("alpha", envelope.New(envelope.Telemetry).Set("seq", seq))
	}
	if d := b.Depth("alpha"); d != 3 {
		t.Fatalf("depth = %d, want 3", d)
	}
	sink := &recordingSink{}
	b.Replay("alpha", sink)
	if len(sink.got) != 3 {
		t.Fatalf("got %d frames, want 3", len(sink.got))
	}
	first := sink.got[0]["seq"]
	if first != 3 {
		t.Errorf("oldest surviving seq = %v, want 3", first)
	}
}

func TestReplayPreservesArrivalOrder(t *testing.T) {
	b := New(10)
	for seq := 10; seq <= 14; seq++ {
		b.Append("alpha", envelope.New(envelope.Telemetry).Set("seq", seq))
	}
	sink := &recordingSink{}
	b.Replay("alpha", sink)
	for i, e := range sink.got {
		want := 10 + i
		if e["seq"] != want {
			t.Errorf("frame %d seq = %v, want %v", i, e["seq"], want)
		}
	}
}

func TestReplayDoesNotLeakOtherDevices(t *testing.T) {
	b := New(10)
	b.Append("alpha", envelope.New(envelope.Telemetry).Set("seq", 1))
	b.Append("bravo", envelope.New(envelope.Telemetry).Set("seq", 99))

	sink := &recordingSink{}
	b.Replay("alpha", sink)
	if len(sink.got) != 1 || sink.got[0]["seq"] != 1 {
		t.Fatalf("got %+v, want only alpha's frame", sink.got)
	}
}

func TestSweepForgetsOnlyExpiredClosedRings(t *testing.T) {
	b := New(10)
	b.Append("alpha", envelope.New(envelope.Telemetry))
	b.Append("bravo", envelope.New(envelope.Telemetry))

	b.MarkClosed("alpha")
	// bravo stays "connected" (no MarkClosed call).

	b.Sweep(0) // zero window: anything closed is immediately expired.

	if b.Depth("alpha") != 0 {
		t.Error("expired ring for alpha should have been forgotten")
	}
	if b.Depth("bravo") != 1 {
		t.Error("bravo's ring should survive since it was never marked closed")
	}
}

func TestMarkReconnectedCancelsRetention(t *testing.T) {
	b := New(10)
	b.Append("alpha", envelope.New(envelope.Telemetry))
	b.MarkClosed("alpha")
	b.MarkReconnected("alpha")

	b.Sweep(0)
	if b.Depth("alpha") != 1 {
		t.Error("reconnected device's ring should not be swept")
	}
}

func TestClonedFramesAreIndependent(t *testing.T) {
	b := New(10)
	b.Append("alpha", envelope.New(envelope.Telemetry).Set("seq", 1))
	sink := &recordingSink{}
	b.Replay("alpha", sink)
	sink.got[0]["seq"] = 999

	sink2 := &recordingSink{}
	b.Replay("alpha", sink2)
	if sink2.got[0]["seq"] != 1 {
		t.Error("mutating a replayed frame leaked back into the buffer")
	}
}
