// Package transcript merges streamed partial and final transcript fragments
// from both conversation parties into completed, ordered conversation turns.
package transcript

import (
	"strings"
	"sync"
)

// SideState is the reconciliation state for one conversation party.
type SideState int

const (
	// SideIdle means no pending fragment for the side.
	SideIdle SideState = iota
	// SideStreaming means a live fragment is still updating.
	SideStreaming
	// SideCommitted means finalized text is buffered but the turn has not
	// flushed yet.
	SideCommitted
)

// String returns a human-readable state name.
func (s SideState) String() string {
	switch s {
	case SideIdle:
		return "IDLE"
	case SideStreaming:
		return "STREAMING"
	case SideCommitted:
		return "COMMITTED"
	default:
		return "UNKNOWN"
	}
}

type sideBuffer struct {
	state     SideState
	committed strings.Builder
	live      string
}

// Reconciler accumulates transcript fragments per side and emits completed
// turns on flush. Committed text is append-only; the live fragment is
// replaceable and is never written to permanent history.
type Reconciler struct {
	mu        sync.Mutex
	user      sideBuffer
	assistant sideBuffer
	tornDown  bool
}

// NewReconciler creates an empty reconciler with both sides idle.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

func (r *Reconciler) side(s Speaker) *sideBuffer {
	if s == SpeakerAssistant {
		return &r.assistant
	}
	return &r.user
}

// ApplyPartial records an in-flight fragment for a side. Partials replace the
// previous live fragment, they do not append.
func (r *Reconciler) ApplyPartial(speaker Speaker, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.side(speaker)
	b.live = text
	if b.state == SideIdle {
		b.state = SideStreaming
	}
}

// ApplyFinal appends finalized text to the side's committed buffer and clears
// the live fragment.
func (r *Reconciler) ApplyFinal(speaker Speaker, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.side(speaker)
	b.committed.WriteString(text)
	b.live = ""
	b.state = SideCommitted
}

// Live returns the current in-flight fragment for a side. Display only.
func (r *Reconciler) Live(speaker Speaker) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.side(speaker).live
}

// State returns the current reconciliation state for a side.
func (r *Reconciler) State(speaker Speaker) SideState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.side(speaker).state
}

// Flush emits one turn per side with non-empty committed text, user before
// assistant, and returns both sides to idle. Call on an explicit
// turn-complete signal from the session.
func (r *Reconciler) Flush() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Reconciler) flushLocked() []Turn {
	var turns []Turn
	if text := strings.TrimSpace(r.user.committed.String()); text != "" {
		turns = append(turns, NewTurn(SpeakerUser, text))
	}
	if text := strings.TrimSpace(r.assistant.committed.String()); text != "" {
		turns = append(turns, NewTurn(SpeakerAssistant, text))
	}
	r.user = sideBuffer{}
	r.assistant = sideBuffer{}
	return turns
}

// Teardown flushes the trailing user utterance when the session ends without
// a turn-complete signal, so the last thing the user said is not lost on a
// dropped connection. An uncommitted assistant fragment is never committed
// here. Safe to call more than once; only the first call can emit.
func (r *Reconciler) Teardown() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tornDown {
		return nil
	}
	r.tornDown = true

	var turns []Turn
	if text := strings.TrimSpace(r.user.committed.String()); text != "" {
		turns = append(turns, NewTurn(SpeakerUser, text))
	}
	r.user = sideBuffer{}
	r.assistant = sideBuffer{}
	return turns
}

// Reset clears all state, including the teardown guard. Call when a new
// session opens over the same reconciler.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = sideBuffer{}
	r.assistant = sideBuffer{}
	r.tornDown = false
}
