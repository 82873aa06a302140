// Package flow models a conversation as an explicit state machine. Transition
// is a pure function; side effects are described as Effects and executed by
// an Interpreter.
package flow

// Phase is the machine's position in the dialogue.
type Phase string

const (
	PhaseAwaitingInput        Phase = "awaiting_input"
	PhaseClassifying          Phase = "classifying"
	PhaseAnswering            Phase = "answering"
	PhaseCollectingIdentifier Phase = "collecting_identifier"
	PhaseSendingCode          Phase = "sending_code"
	PhaseAwaitingCode         Phase = "awaiting_code"
	PhaseVerifyingCode        Phase = "verifying_code"
	PhaseCompleted            Phase = "completed"
	PhaseErrored              Phase = "errored"
)

// Intent is the classified purpose of a user turn.
type Intent string

const (
	IntentQuestion Intent = "question"
	IntentStatus   Intent = "status"
)

// Defaults for the structured sub-flow.
const (
	IdentifierLength = 12
	MaxAttempts      = 3
)

// User-facing prompts, in the pivot language.
const (
	MsgAskIdentifier     = "Please enter your 12 digit Aadhaar number to check your application status."
	MsgInvalidIdentifier = "That does not look like a valid 12 digit Aadhaar number. Please try again."
	MsgCodeSent          = "An OTP has been sent to the mobile number linked with your Aadhaar. Please enter the OTP."
	MsgInvalidCode       = "The OTP entered is incorrect. Please try again."
	MsgTooManyAttempts   = "Too many invalid attempts. Please start again."
	MsgGenericError      = "Something went wrong. Please try again later."
)

// State is the full machine state. The zero value is not valid; use NewState.
type State struct {
	Phase Phase
	// Paused is set when the machine has produced output and waits for the
	// next user turn.
	Paused bool

	Query      string
	Intent     Intent
	Identifier string
	Attempts   int

	// Response holds the output of the latest cycle.
	Response string
	// Error holds the user-facing message of the errored phase.
	Error string
}

// NewState returns the initial state.
func NewState() State {
	return State{Phase: PhaseAwaitingInput}
}

// Terminal reports whether the machine has finished.
func (s State) Terminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseErrored
}

// Settled reports whether a cycle is over: the machine is paused or terminal.
func (s State) Settled() bool {
	return s.Paused || s.Terminal()
}

// Event is an input to Transition.
type Event interface {
	event()
}

// UserInput carries one user turn in the pivot language.
type UserInput struct {
	Text string
}

// IntentClassified reports the result of ClassifyIntent.
type IntentClassified struct {
	Intent Intent
}

// AnswerReady reports an open-domain answer in the pivot language.
type AnswerReady struct {
	Text string
}

// CodeSent reports that a one-time code was sent.
type CodeSent struct{}

// CodeVerified reports a successful verification and the resulting status.
type CodeVerified struct {
	Status string
}

// CodeRejected reports a wrong one-time code.
type CodeRejected struct{}

// Failed reports an internal error. Message is shown to the user.
type Failed struct {
	Err     error
	Message string
}

func (UserInput) event()        {}
func (IntentClassified) event() {}
func (AnswerReady) event()      {}
func (CodeSent) event()         {}
func (CodeVerified) event()     {}
func (CodeRejected) event()     {}
func (Failed) event()           {}

// Effect is a command the interpreter must run. A nil Effect means none.
type Effect interface {
	effect()
}

// ClassifyIntent asks for the intent of Text.
type ClassifyIntent struct {
	Text string
}

// Answer asks the open-domain path to answer Query.
type Answer struct {
	Query string
}

// SendCode asks the verifier to send a one-time code.
type SendCode struct {
	Identifier string
}

// VerifyCode asks the verifier to check a one-time code.
type VerifyCode struct {
	Identifier string
	Code       string
}

func (ClassifyIntent) effect() {}
func (Answer) effect()         {}
func (SendCode) effect()       {}
func (VerifyCode) effect()     {}
