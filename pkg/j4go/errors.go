package j4go

import (
	"errors"
	"strings"
)

// Kind categorizes bridge errors.
type Kind string

const (
	KindAttach     Kind = "attach"     // thread attach/detach, runtime shut down
	KindResolution Kind = "resolution" // class, method or field lookup
	KindInvocation Kind = "invocation" // the managed call threw
	KindConversion Kind = "conversion" // argument encoding, result decoding, casts
	KindChannel    Kind = "channel"    // callback channels
	KindConfig     Kind = "config"     // builder and option validation
)

// Error is the structured error returned by every bridge operation.
type Error struct {
	Kind Kind
	// Op names the failed operation, e.g. "invoke java.lang.String.split".
	Op string
	// JavaClass and Message describe the managed exception for
	// KindInvocation errors.
	JavaClass string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("j4go: ")
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" error in ")
		b.WriteString(e.Op)
	}
	if e.JavaClass != "" {
		b.WriteString(": ")
		b.WriteString(e.JavaClass)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors of the same kind, so the Err* sentinels work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == ""
}

// Sentinels for errors.Is.
var (
	ErrAttach     = &Error{Kind: KindAttach}
	ErrResolution = &Error{Kind: KindResolution}
	ErrInvocation = &Error{Kind: KindInvocation}
	ErrConversion = &Error{Kind: KindConversion}
	ErrChannel    = &Error{Kind: KindChannel}
	ErrConfig     = &Error{Kind: KindConfig}

	// ErrTimeout is the cause of channel errors from timed-out receives.
	ErrTimeout = errors.New("receive timed out")
	// ErrClosed is the cause of channel errors on closed receivers.
	ErrClosed = errors.New("receiver closed")
)

func newError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func wrapError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// KindOf returns the kind of a bridge error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
