package loadstate

import (
	"errors"
	"strings"
)

// Kind is the error taxonomy surfaced to the host.
type Kind int

const (
	Unknown Kind = iota
	WorkerUnavailable
	CorruptDocument
)

func (k Kind) String() string {
	switch k {
	case WorkerUnavailable:
		return "WorkerUnavailable"
	case CorruptDocument:
		return "CorruptDocument"
	default:
		return "Unknown"
	}
}

// Failure is a classified decode failure. Message keeps the raw text.
type Failure struct {
	Kind    Kind
	Message string
}

func (f *Failure) Error() string {
	return f.Kind.String() + ": " + f.Message
}

// Classify inspects the failure text. Worker problems win over content
// problems when both are mentioned.
func Classify(err error) Failure {
	if err == nil {
		err = errors.New("unknown decode failure")
	}
	var f *Failure
	if errors.As(err, &f) {
		return *f
	}
	msg := err.Error()
	return Failure{Kind: classifyMessage(msg), Message: msg}
}

func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "worker"):
		return WorkerUnavailable
	case strings.Contains(lower, "corrupt"),
		strings.Contains(lower, "invalid"),
		strings.Contains(lower, "malformed"),
		strings.Contains(lower, "not a valid pdf"):
		return CorruptDocument
	default:
		return Unknown
	}
}
