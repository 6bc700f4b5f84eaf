package correct

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/negafix/internal/pixbuf"
)

// InvalidInputError reports a buffer or parameter a stage cannot work with.
type InvalidInputError struct {
	Op     string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: invalid input: %s", e.Op, e.Reason)
}

// DegenerateChannelError reports a zero mean that would make a gain or factor undefined.
// Channel is a pixbuf channel index, or -1 when the overall brightness is zero.
type DegenerateChannelError struct {
	Op      string
	Channel int
}

func (e *DegenerateChannelError) Error() string {
	if e.Channel < 0 {
		return fmt.Sprintf("%s: degenerate image: mean brightness is zero", e.Op)
	}
	return fmt.Sprintf("%s: degenerate %s channel: mean is zero", e.Op, pixbuf.ChannelName(e.Channel))
}

// IsInvalidInput reports whether err wraps an *InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

// IsDegenerate reports whether err wraps a *DegenerateChannelError.
func IsDegenerate(err error) bool {
	var target *DegenerateChannelError
	return errors.As(err, &target)
}

func invalid(op, format string, args ...any) error {
	return &InvalidInputError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// CheckBuffer rejects empty or inconsistent buffers with an InvalidInputError.
func CheckBuffer(op string, b pixbuf.Buffer) error {
	if err := b.Validate(); err != nil {
		return invalid(op, "%v", err)
	}
	return nil
}
