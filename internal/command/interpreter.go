// Package command interprets raw voice or typed command text into structured
// actions. Matching is priority-ordered substring detection over a loose
// vocabulary, not a grammar: the first rule that matches wins, and longer
// trigger phrases are listed before their prefixes ("go forward two" must be
// tried before "go forward").
package command

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCommand is returned for empty or whitespace-only input; it is
// distinct from an unrecognized command, which yields IntentUnknown.
var ErrInvalidCommand = errors.New("invalid command")

type Intent string

const (
	IntentStart     Intent = "start"
	IntentStop      Intent = "stop"
	IntentMove      Intent = "move"
	IntentSuggest   Intent = "suggest"
	IntentAccept    Intent = "accept"
	IntentAcceptAll Intent = "accept_all"
	IntentRestore   Intent = "restore"
	IntentComment   Intent = "comment"
	IntentHighlight Intent = "highlight"
	IntentUnknown   Intent = "unknown"
)

type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionForward Direction = "forward"
	DirectionTarget  Direction = "target"
)

// Scope is the position hint an action applies to.
type Scope string

const (
	ScopeParagraph Scope = "paragraph"
	ScopeSelection Scope = "selection"
	ScopeCurrent   Scope = "current"
)

// Action is the interpreted result of a command string.
type Action struct {
	Intent    Intent    `json:"intent"`
	Direction Direction `json:"direction,omitempty"`
	Steps     int       `json:"steps,omitempty"`
	Target    string    `json:"target,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Scope     Scope     `json:"scope,omitempty"`
}

type rule struct {
	phrase string
	build  func(lowered, tail string) Action
}

// Rules are ordered by priority; the first matching phrase wins. The order
// is a correctness requirement for overlapping phrases.
var rules = []rule{
	{"start redlining", func(string, string) Action {
		return Action{Intent: IntentStart, Scope: ScopeCurrent}
	}},
	{"stop redlining", func(string, string) Action {
		return Action{Intent: IntentStop, Scope: ScopeCurrent}
	}},
	{"move cursor up", func(string, string) Action {
		return Action{Intent: IntentMove, Direction: DirectionUp, Steps: 1, Scope: ScopeCurrent}
	}},
	{"move cursor down", func(string, string) Action {
		return Action{Intent: IntentMove, Direction: DirectionDown, Steps: 1, Scope: ScopeCurrent}
	}},
	{"move cursor to the words", func(_, tail string) Action {
		return Action{Intent: IntentMove, Direction: DirectionTarget, Target: tail, Scope: ScopeCurrent}
	}},
	{"go forward two", func(string, string) Action {
		return Action{Intent: IntentMove, Direction: DirectionForward, Steps: 2, Scope: ScopeCurrent}
	}},
	{"go forward", func(_, tail string) Action {
		return Action{Intent: IntentMove, Direction: DirectionForward, Steps: stepCount(tail), Scope: ScopeCurrent}
	}},
	{"make suggestion", func(_, tail string) Action {
		return Action{Intent: IntentSuggest, Payload: tail, Scope: ScopeParagraph}
	}},
	{"accept suggested", func(string, string) Action {
		return Action{Intent: IntentAccept, Scope: ScopeParagraph}
	}},
	{"clear markup", func(string, string) Action {
		return Action{Intent: IntentRestore, Scope: ScopeCurrent}
	}},
	{"restore original", func(string, string) Action {
		return Action{Intent: IntentRestore, Scope: ScopeCurrent}
	}},
	{"accept all", func(string, string) Action {
		return Action{Intent: IntentAcceptAll, Scope: ScopeCurrent}
	}},
	{"move to final", func(string, string) Action {
		return Action{Intent: IntentAcceptAll, Scope: ScopeCurrent}
	}},
	{"comment", func(_, tail string) Action {
		return Action{Intent: IntentComment, Payload: tail, Scope: ScopeSelection}
	}},
	{"highlight", func(_, tail string) Action {
		return Action{Intent: IntentHighlight, Payload: tail, Scope: ScopeSelection}
	}},
}

// Interpret maps raw command text to an Action. It is pure, performs no
// I/O, and is case-insensitive on its input.
func Interpret(raw string) (Action, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Action{}, ErrInvalidCommand
	}

	lowered := strings.ToLower(trimmed)
	for _, r := range rules {
		idx := strings.Index(lowered, r.phrase)
		if idx < 0 {
			continue
		}
		tail := strings.TrimSpace(lowered[idx+len(r.phrase):])
		return r.build(lowered, tail), nil
	}

	return Action{Intent: IntentUnknown, Payload: trimmed, Scope: ScopeCurrent}, nil
}

// stepCount parses the token immediately following "forward" as a base-10
// step count, defaulting to a single step.
func stepCount(tail string) int {
	fields := strings.Fields(tail)
	if len(fields) == 0 {
		return 1
	}
	if n, err := strconv.Atoi(fields[0]); err == nil && n > 0 {
		return n
	}
	return 1
}
