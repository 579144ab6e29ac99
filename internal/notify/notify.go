package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Stage names the pipeline phase an event reports. Progress values are fixed
// checkpoints, not a measured throughput: 30, 50, 75, 100.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageExtracting Stage = "extracting"
	StageGenerating Stage = "generating"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

const (
	ProgressUploading  = 30
	ProgressExtracting = 50
	ProgressGenerating = 75
	ProgressCompleted  = 100
)

// Event is a transient progress notification for one upload. It is never
// persisted.
type Event struct {
	UploadID  string         `json:"upload_id"`
	Stage     Stage          `json:"stage"`
	Progress  int            `json:"progress"`
	Message   string         `json:"message,omitempty"`
	Chunk     string         `json:"chunk,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is one live client connection. Send must not block: slow consumers
// drop events rather than stalling the emitting worker.
type Session interface {
	ID() string
	Send(ev Event)
}

// Registry maps a user to their live sessions and fans events out to all of
// them. Delivery is best-effort and fire-and-forget; a user with no sessions
// causes no error. For a single job, events arrive in emission order because
// the worker emits from one goroutine.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[string]Session)}
}

func (r *Registry) Register(userID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]Session)
		r.sessions[userID] = set
	}
	set[s.ID()] = s
	log.Debug().Str("user_id", userID).Str("session", s.ID()).Msg("session registered")
}

func (r *Registry) Unregister(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[userID]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.sessions, userID)
	}
	log.Debug().Str("user_id", userID).Str("session", sessionID).Msg("session removed")
}

// Notify delivers ev to every live session of userID.
func (r *Registry) Notify(userID string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	r.mu.RLock()
	targets := make([]Session, 0, len(r.sessions[userID]))
	for _, s := range r.sessions[userID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	for _, s := range targets {
		s.Send(ev)
	}
}

// SessionCount returns the number of live sessions for a user.
func (r *Registry) SessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// ChanSession is a Session backed by a buffered channel, used by the SSE
// transport. When the buffer is full the event is dropped.
type ChanSession struct {
	id string
	ch chan Event
}

func NewChanSession(id string, buffer int) *ChanSession {
	if buffer <= 0 {
		buffer = 32
	}
	return &ChanSession{id: id, ch: make(chan Event, buffer)}
}

func (s *ChanSession) ID() string { return s.id }

func (s *ChanSession) Send(ev Event) {
	select {
	case s.ch <- ev:
	default:
		log.Warn().Str("session", s.id).Str("upload_id", ev.UploadID).Msg("slow consumer, event dropped")
	}
}

// Events exposes the receive side for the transport loop.
func (s *ChanSession) Events() <-chan Event { return s.ch }
