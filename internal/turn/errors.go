package turn

// ErrorKind classifies why a turn stopped before producing an agent reply.
type ErrorKind int

const (
	// ErrEmpty means the turn carried no usable text or audio.
	ErrEmpty ErrorKind = iota
	// ErrTranscription means audio was present but could not be transcribed.
	ErrTranscription
	// ErrAgent means the agent failed while handling the turn.
	ErrAgent
)

func (k ErrorKind) String() string {
	switch k {
	case ErrEmpty:
		return "empty_input"
	case ErrTranscription:
		return "transcription_failed"
	case ErrAgent:
		return "agent_error"
	default:
		return "unknown"
	}
}

// TurnError terminates the current turn with a user-facing message. It never
// crashes the process and is never silently dropped: the pipeline sends
// Message back to the user as the reply.
type TurnError struct {
	Kind    ErrorKind
	Message string
}

func (e *TurnError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func emptyInputError() *TurnError {
	return &TurnError{Kind: ErrEmpty, Message: MsgPromptForInput}
}

func transcriptionError() *TurnError {
	return &TurnError{Kind: ErrTranscription, Message: MsgTranscriptionFailed}
}
