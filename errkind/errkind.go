// Package errkind defines the failure taxonomy shared by every stage of the
// manifest pipeline. Each stage error carries exactly one kind so callers can
// branch with errors.Is instead of parsing messages.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds.
var (
	// ErrStructural marks malformed input shape: empty leaf sets, mismatched
	// array lengths, bad address or selector formats.
	ErrStructural = errors.New("structural error")

	// ErrCollision marks two distinct canonical signatures sharing a selector.
	ErrCollision = errors.New("selector collision")

	// ErrSizeViolation marks a facet whose runtime bytecode reaches the
	// EIP-170 limit.
	ErrSizeViolation = errors.New("eip-170 size violation")

	// ErrConsistency marks predictive/observed disagreement or a
	// reproducibility failure between otherwise identical runs.
	ErrConsistency = errors.New("consistency error")

	// ErrIntegrity marks a proof that fails against its own tree. It is a
	// defect in this tool, never a user input problem.
	ErrIntegrity = errors.New("integrity error")

	// ErrProvider marks a JSON-RPC or network failure in observed mode.
	ErrProvider = errors.New("provider error")
)

// Error is a classified failure. It matches both its Kind and its cause
// under errors.Is.
type Error struct {
	Kind    error
	Op      string
	Subject string
	Err     error
}

// New returns a classified error.
func New(kind error, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Newf returns a classified error whose cause is formatted from the
// arguments.
func Newf(kind error, op, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Subject != "" {
		b.WriteString(e.Subject)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		if e.Kind != nil {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the kind of the first classified error found in err's
// tree, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// Join aggregates a list of gate failures into one error, dropping nils.
// It returns nil when nothing failed.
func Join(errs []error) error {
	return errors.Join(errs...)
}

// Messages renders each error on its own line for JSON reports.
func Messages(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}
