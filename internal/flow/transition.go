package flow

import (
	"strings"
)

// Transition applies event to s and returns the next state with the effect to
// run, if any. It never mutates s.
func Transition(s State, ev Event) (State, Effect) {
	if s.Terminal() {
		return s, nil
	}

	if f, ok := ev.(Failed); ok {
		return fail(s, f.Message), nil
	}

	next := s
	next.Paused = false
	next.Response = ""

	switch s.Phase {
	case PhaseAwaitingInput:
		in, ok := ev.(UserInput)
		if !ok {
			return unexpected(s, ev), nil
		}
		next.Phase = PhaseClassifying
		next.Query = in.Text
		next.Intent = ""
		return next, ClassifyIntent{Text: in.Text}

	case PhaseClassifying:
		c, ok := ev.(IntentClassified)
		if !ok {
			return unexpected(s, ev), nil
		}
		next.Intent = c.Intent
		if c.Intent == IntentStatus {
			next.Phase = PhaseCollectingIdentifier
			next.Attempts = 0
			return pause(next, MsgAskIdentifier), nil
		}
		next.Phase = PhaseAnswering
		return next, Answer{Query: s.Query}

	case PhaseAnswering:
		a, ok := ev.(AnswerReady)
		if !ok {
			return unexpected(s, ev), nil
		}
		next.Phase = PhaseAwaitingInput
		return pause(next, a.Text), nil

	case PhaseCollectingIdentifier:
		in, ok := ev.(UserInput)
		if !ok {
			return unexpected(s, ev), nil
		}
		id := compact(in.Text)
		if !ValidIdentifier(id) {
			next.Attempts++
			if next.Attempts >= MaxAttempts {
				return fail(next, MsgTooManyAttempts), nil
			}
			return pause(next, MsgInvalidIdentifier), nil
		}
		next.Phase = PhaseSendingCode
		next.Identifier = id
		next.Attempts = 0
		return next, SendCode{Identifier: id}

	case PhaseSendingCode:
		if _, ok := ev.(CodeSent); !ok {
			return unexpected(s, ev), nil
		}
		next.Phase = PhaseAwaitingCode
		return pause(next, MsgCodeSent), nil

	case PhaseAwaitingCode:
		in, ok := ev.(UserInput)
		if !ok {
			return unexpected(s, ev), nil
		}
		next.Phase = PhaseVerifyingCode
		return next, VerifyCode{Identifier: s.Identifier, Code: compact(in.Text)}

	case PhaseVerifyingCode:
		switch e := ev.(type) {
		case CodeVerified:
			next.Phase = PhaseCompleted
			next.Response = e.Status
			return next, nil
		case CodeRejected:
			next.Attempts++
			if next.Attempts >= MaxAttempts {
				return fail(next, MsgTooManyAttempts), nil
			}
			next.Phase = PhaseAwaitingCode
			return pause(next, MsgInvalidCode), nil
		default:
			return unexpected(s, ev), nil
		}
	}

	return unexpected(s, ev), nil
}

// ValidIdentifier reports whether id is a well-formed 12 digit identifier.
func ValidIdentifier(id string) bool {
	if len(id) != IdentifierLength {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pause(s State, response string) State {
	s.Paused = true
	s.Response = response
	return s
}

func fail(s State, message string) State {
	if message == "" {
		message = MsgGenericError
	}
	s.Phase = PhaseErrored
	s.Paused = false
	s.Response = ""
	s.Error = message
	return s
}

// unexpected handles an event the current phase cannot accept.
func unexpected(s State, _ Event) State {
	return fail(s, MsgGenericError)
}

// compact strips whitespace users type inside identifiers and codes.
func compact(text string) string {
	return strings.Join(strings.Fields(text), "")
}
