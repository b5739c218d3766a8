package domain

// CallerRecord is one known phone-originated identity, persisted by a
// caller directory backend. The phone number is the natural key; the
// directory assigns the ID on creation.
type CallerRecord struct {
	ID          string
	PhoneNumber string
	DisplayName string
}

// CallTurn is one inbound webhook invocation. It is never persisted;
// each turn reconstructs its context from CallerPhone alone.
type CallTurn struct {
	CallerPhone  string
	IsFirstTurn  bool
	UtteranceRef string
}

// NextAction tells the telephony layer what to do after playing the
// spoken response.
type NextAction int

const (
	// AwaitRecording asks the caller to speak again and posts the
	// recording back to the turn endpoint.
	AwaitRecording NextAction = iota
	// EndCall hangs up.
	EndCall
)

// TurnOutcome is the orchestrator's decision for a single turn.
// AudioRef is empty when synthesis failed; the markup layer then falls
// back to a plain text-to-speech verb.
type TurnOutcome struct {
	SpokenText string
	NextAction NextAction
	AudioRef   string
}
