package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlbulk"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Bulk operation failed against the store
	ExitCommandError = 2 // Command error (bad config, unknown entity, uncorrelated match, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// WrapBulkError wraps a bulk operation failure. Failures caused by the
// caller's types (schema resolution, correlation) are command errors;
// store failures are ExitFailure.
func WrapBulkError(message string, err error) *ExitError {
	code := ExitFailure
	if sqlbulk.IsSchemaResolution(err) || sqlbulk.IsCorrelation(err) {
		code = ExitCommandError
	}
	return WrapExitError(code, message, err)
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode names an error for structured output: the bulk error code when
// there is one, otherwise a generic command code.
func ErrorCode(err error) string {
	var be *sqlbulk.Error
	if errors.As(err, &be) {
		return string(be.Code)
	}
	if GetExitCode(err) == ExitCommandError {
		return "COMMAND"
	}
	return "FAILURE"
}

// OutputFormatter handles text, JSON and YAML output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard structured response format for CLI output.
// Status is "ok" or "error"; exactly one of Data and Error is set.
type CLIResponse struct {
	Status string    `json:"status" yaml:"status"`
	Data   any       `json:"data,omitempty" yaml:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code" yaml:"code"` // bulk error code, "COMMAND" or "FAILURE"
	Message string `json:"message" yaml:"message"`
	Details any    `json:"details,omitempty" yaml:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	switch f.Format {
	case "json":
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	case "yaml":
		return f.encodeYAML(CLIResponse{Status: "ok", Data: data})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	resp := CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: code, Message: message, Details: details},
	}
	switch f.Format {
	case "json":
		return json.NewEncoder(f.Writer).Encode(resp)
	case "yaml":
		return f.encodeYAML(resp)
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

func (f *OutputFormatter) encodeYAML(v any) error {
	enc := yaml.NewEncoder(f.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
