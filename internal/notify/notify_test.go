package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOutToAllSessions(t *testing.T) {
	r := NewRegistry()
	a := NewChanSession("a", 4)
	b := NewChanSession("b", 4)
	r.Register("u1", a)
	r.Register("u1", b)
	r.Register("u2", NewChanSession("c", 4))

	r.Notify("u1", Event{UploadID: "up", Stage: StageExtracting, Progress: ProgressExtracting})

	for _, s := range []*ChanSession{a, b} {
		select {
		case ev := <-s.Events():
			assert.Equal(t, StageExtracting, ev.Stage)
			assert.Equal(t, 50, ev.Progress)
			assert.False(t, ev.Timestamp.IsZero())
		default:
			t.Fatalf("session %s did not receive the event", s.ID())
		}
	}
}

func TestNotifyWithoutSessionsIsNoop(t *testing.T) {
	r := NewRegistry()
	// must not panic or error
	r.Notify("ghost", Event{Stage: StageCompleted})
	assert.Equal(t, 0, r.SessionCount("ghost"))
}

func TestUnregisterRemovesSession(t *testing.T) {
	r := NewRegistry()
	s := NewChanSession("s1", 4)
	r.Register("u1", s)
	require.Equal(t, 1, r.SessionCount("u1"))

	r.Unregister("u1", "s1")
	assert.Equal(t, 0, r.SessionCount("u1"))

	r.Notify("u1", Event{Stage: StageError})
	select {
	case <-s.Events():
		t.Fatal("removed session must not receive events")
	default:
	}
}

func TestSlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	s := NewChanSession("slow", 1)
	s.Send(Event{Stage: StageUploading})
	// buffer full; this must return immediately
	s.Send(Event{Stage: StageExtracting})

	ev := <-s.Events()
	assert.Equal(t, StageUploading, ev.Stage)
	select {
	case <-s.Events():
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestEventsPreserveEmissionOrder(t *testing.T) {
	r := NewRegistry()
	s := NewChanSession("s1", 8)
	r.Register("u1", s)

	stages := []Stage{StageUploading, StageExtracting, StageGenerating, StageCompleted}
	for _, st := range stages {
		r.Notify("u1", Event{UploadID: "up", Stage: st})
	}
	for _, want := range stages {
		ev := <-s.Events()
		assert.Equal(t, want, ev.Stage)
	}
}
