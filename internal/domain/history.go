package domain

import (
	"sync"
	"time"
)

// TurnRole distinguishes user questions from assistant answers.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// ConversationTurn is one utterance in the single shared conversation.
type ConversationTurn struct {
	Role    TurnRole
	Content string
	Mode    Mode
	At      time.Time
}

// History is a bounded, mutex-guarded conversation log. It keeps at
// most maxTurns question/answer pairs; older pairs are evicted in FIFO
// order. Completed exchanges only: a turn pair is appended after the
// answer finished streaming, never during.
type History struct {
	mu       sync.Mutex
	maxTurns int
	turns    []ConversationTurn
}

// NewHistory creates a history bounded to maxTurns exchanges.
func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &History{maxTurns: maxTurns}
}

// Append records one completed question/answer exchange.
func (h *History) Append(question, answer string, mode Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	h.turns = append(h.turns,
		ConversationTurn{Role: RoleUser, Content: question, Mode: mode, At: now},
		ConversationTurn{Role: RoleAssistant, Content: answer, Mode: mode, At: now},
	)
	if max := h.maxTurns * 2; len(h.turns) > max {
		h.turns = h.turns[len(h.turns)-max:]
	}
}

// Snapshot returns a copy of the current turns, oldest first.
func (h *History) Snapshot() []ConversationTurn {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ConversationTurn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Clear drops all turns.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
