package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/prompt-engine/pkg/logger"
)

// ErrStepLimit is returned when a cycle runs more effects than allowed.
var ErrStepLimit = errors.New("flow exceeded step limit")

// IntentClassifier decides the intent of a user turn.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// Answerer answers open-domain questions in the pivot language.
type Answerer interface {
	Answer(ctx context.Context, query string) (string, error)
}

// Verifier drives one-time code verification for the status sub-flow.
type Verifier interface {
	SendCode(ctx context.Context, identifier string) error
	// VerifyCode returns the status message and whether the code was accepted.
	VerifyCode(ctx context.Context, identifier, code string) (string, bool, error)
}

// Interpreter runs effects produced by Transition until the machine is
// paused or terminal.
type Interpreter struct {
	classifier IntentClassifier
	answerer   Answerer
	verifier   Verifier
	logger     *logger.Logger
	maxSteps   int
	// messageFor maps an effect failure to a user-facing message.
	messageFor func(error) string
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

// WithVerifier enables the status sub-flow.
func WithVerifier(v Verifier) InterpreterOption {
	return func(i *Interpreter) { i.verifier = v }
}

// WithErrorMessages sets the mapping from effect errors to user messages.
func WithErrorMessages(fn func(error) string) InterpreterOption {
	return func(i *Interpreter) { i.messageFor = fn }
}

// NewInterpreter creates a new Interpreter.
func NewInterpreter(classifier IntentClassifier, answerer Answerer, log *logger.Logger, opts ...InterpreterOption) *Interpreter {
	i := &Interpreter{
		classifier: classifier,
		answerer:   answerer,
		logger:     log,
		maxSteps:   16,
		messageFor: func(error) string { return MsgGenericError },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Send delivers ev to the machine in state s and runs the resulting effects.
// The returned error is the cause of an errored state, if any.
func (i *Interpreter) Send(ctx context.Context, s State, ev Event) (State, error) {
	var cause error
	state, eff := Transition(s, ev)

	for steps := 0; eff != nil; steps++ {
		if steps >= i.maxSteps {
			cause = ErrStepLimit
			state, eff = Transition(state, Failed{Err: cause, Message: i.messageFor(cause)})
			break
		}
		if err := ctx.Err(); err != nil {
			cause = err
			state, eff = Transition(state, Failed{Err: err, Message: i.messageFor(err)})
			break
		}

		next, err := i.run(ctx, eff)
		if err != nil {
			cause = err
			i.logger.Warn("flow effect failed",
				zap.String("phase", string(state.Phase)),
				zap.String("effect", fmt.Sprintf("%T", eff)),
				zap.Error(err),
			)
			next = Failed{Err: err, Message: i.messageFor(err)}
		}
		state, eff = Transition(state, next)
	}

	if state.Phase != PhaseErrored {
		cause = nil
	}
	return state, cause
}

func (i *Interpreter) run(ctx context.Context, eff Effect) (Event, error) {
	switch e := eff.(type) {
	case ClassifyIntent:
		intent, err := i.classifier.Classify(ctx, e.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to classify intent: %w", err)
		}
		if intent == IntentStatus && i.verifier == nil {
			intent = IntentQuestion
		}
		return IntentClassified{Intent: intent}, nil

	case Answer:
		text, err := i.answerer.Answer(ctx, e.Query)
		if err != nil {
			return nil, err
		}
		return AnswerReady{Text: text}, nil

	case SendCode:
		if err := i.verifier.SendCode(ctx, e.Identifier); err != nil {
			return nil, fmt.Errorf("failed to send code: %w", err)
		}
		return CodeSent{}, nil

	case VerifyCode:
		status, ok, err := i.verifier.VerifyCode(ctx, e.Identifier, e.Code)
		if err != nil {
			return nil, fmt.Errorf("failed to verify code: %w", err)
		}
		if !ok {
			return CodeRejected{}, nil
		}
		return CodeVerified{Status: status}, nil
	}

	return nil, fmt.Errorf("unknown effect %T", eff)
}

// KeywordClassifier marks a turn as a status request when it mentions one of
// its keywords. Everything else is an open-domain question.
type KeywordClassifier struct {
	keywords []string
}

// NewKeywordClassifier creates a classifier over case-insensitive keywords.
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordClassifier{keywords: lowered}
}

// Classify implements IntentClassifier.
func (c *KeywordClassifier) Classify(_ context.Context, text string) (Intent, error) {
	text = strings.ToLower(text)
	for _, k := range c.keywords {
		if strings.Contains(text, k) {
			return IntentStatus, nil
		}
	}
	return IntentQuestion, nil
}
