package domain

import "fmt"

// Mode selects the answer generation profile.
type Mode string

const (
	ModeQuick   Mode = "quick"
	ModeDeep    Mode = "deep"
	ModeGeneral Mode = "general"
	ModeFast    Mode = "fast"
)

// DefaultMode is used when a chat request omits the mode.
const DefaultMode = ModeQuick

// ParseMode validates a mode string. Empty input resolves to DefaultMode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return DefaultMode, nil
	case ModeQuick, ModeDeep, ModeGeneral, ModeFast:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// ModelProfile is the resolved generation configuration for a mode.
// It is fixed once at request start; mid-request mode changes do not exist.
type ModelProfile struct {
	ModelID       string
	ContextWindow int
	MaxTokens     int
	Temperature   float32
}
