package core

import (
	"fmt"
	"strings"
	"time"
)

// UserFacing is implemented by errors that are rendered back to the channel
// that triggered them instead of being treated as failures.
type UserFacing interface {
	error
	UserMessage() string
	ExpireIn() time.Duration
}

// CommandError is a recoverable business-rule rejection.
type CommandError struct {
	Message string
	Expire  time.Duration
}

// NewCommandError returns a CommandError with an optional auto-expire.
func NewCommandError(msg string, expire time.Duration) *CommandError {
	return &CommandError{Message: msg, Expire: expire}
}

// Errorf formats a CommandError without auto-expire.
func Errorf(format string, args ...any) *CommandError {
	return &CommandError{Message: fmt.Sprintf(format, args...)}
}

func (e *CommandError) Error() string           { return e.Message }
func (e *CommandError) UserMessage() string     { return e.Message }
func (e *CommandError) ExpireIn() time.Duration { return e.Expire }

// PermissionsError is a CommandError raised when the sender's group may not
// run a command.
type PermissionsError struct {
	CommandError
	Group string
}

// NewPermissionsError returns a PermissionsError for the given group.
func NewPermissionsError(msg, group string, expire time.Duration) *PermissionsError {
	return &PermissionsError{CommandError: CommandError{Message: msg, Expire: expire}, Group: group}
}

// ExtractionError reports a failed lookup of media or metadata.
type ExtractionError struct {
	CommandError
	Err error
}

// NewExtractionError wraps err with a user visible message.
func NewExtractionError(msg string, err error) *ExtractionError {
	return &ExtractionError{CommandError: CommandError{Message: msg, Expire: 30 * time.Second}, Err: err}
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// HelpfulError is a fatal configuration problem with a remediation hint.
type HelpfulError struct {
	Issue    string
	Solution string
	Expire   time.Duration
}

// NewHelpfulError returns a HelpfulError.
func NewHelpfulError(issue, solution string) *HelpfulError {
	return &HelpfulError{Issue: issue, Solution: solution}
}

func (e *HelpfulError) Error() string { return e.Issue }

// UserMessage renders the issue and its solution on separate lines.
func (e *HelpfulError) UserMessage() string {
	var b strings.Builder
	b.WriteString("An error has occurred:\n  Problem:  ")
	b.WriteString(e.Issue)
	if e.Solution != "" {
		b.WriteString("\n  Solution: ")
		b.WriteString(e.Solution)
	}
	return b.String()
}

func (e *HelpfulError) ExpireIn() time.Duration { return e.Expire }
