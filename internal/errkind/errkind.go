// Package errkind provides the categorized error taxonomy shared by every
// component: a closed enum of error codes grouped by subsystem, with
// Retriable and Fatal predicates that the LLM Gateway and Orchestrator use
// to decide whether to fail over or abort a turn.
package errkind

import "fmt"

// Code is a categorized error kind. Numeric bands mirror subsystem grouping
// so that a code's magnitude hints at its origin even out of context.
type Code int

const (
	// General errors (1-99)
	Unknown          Code = 1
	InvalidArgument  Code = 2
	NotFound         Code = 3
	AlreadyExists    Code = 4
	PermissionDenied Code = 5
	Timeout          Code = 6
	Cancelled        Code = 7
	NotImplemented   Code = 8
	InternalError    Code = 9
	InvalidState     Code = 10

	// Memory errors (100-199)
	MemoryLoadFailed   Code = 100
	MemorySaveFailed   Code = 101
	MemoryCorrupted    Code = 102
	CheckpointNotFound Code = 103
	EpisodeNotFound    Code = 104
	SessionExpired     Code = 105
	SessionNotFound    Code = 106

	// LLM errors (200-299)
	LLMConnectionFailed    Code = 200
	LLMRateLimited         Code = 201
	LLMContextOverflow     Code = 202
	LLMInvalidResponse     Code = 203
	LLMApiKeyMissing       Code = 204
	LLMProviderUnavailable Code = 205
	LLMTokenLimitExceeded  Code = 206
	LLMStreamError         Code = 207

	// Tool errors (300-399)
	ToolNotFound         Code = 300
	ToolExecutionFailed  Code = 301
	ToolValidationFailed Code = 302
	ToolTimeout          Code = 303
	ToolPermissionDenied Code = 304
	MCPConnectionFailed  Code = 305
	MCPProtocolError     Code = 306
	ToolDisabled         Code = 307

	// TRM errors (400-499)
	TRMModelNotLoaded   Code = 400
	TRMInferenceFailed  Code = 401
	TRMTrainingFailed   Code = 402
	TRMInsufficientData Code = 403
	TRMModelCorrupted   Code = 404

	// Context errors (500-599)
	ContextBuildFailed      Code = 500
	ContextCompactionFailed Code = 501
	ContextTooLarge         Code = 502

	// Configuration errors (600-699)
	ConfigNotFound         Code = 600
	ConfigParseFailed      Code = 601
	ConfigValidationFailed Code = 602
	ConfigKeyMissing       Code = 603

	// File system errors (700-799)
	FileNotFound      Code = 700
	FileReadFailed    Code = 701
	FileWriteFailed   Code = 702
	DirectoryNotFound Code = 703
	PathNotAllowed    Code = 704
	FileTooLarge      Code = 705

	// Network errors (800-899)
	NetworkError        Code = 800
	ConnectionRefused   Code = 801
	DNSResolutionFailed Code = 802
	SSLError            Code = 803
)

var codeMessages = map[Code]string{
	Unknown:          "unknown error",
	InvalidArgument:  "invalid argument",
	NotFound:         "not found",
	AlreadyExists:    "already exists",
	PermissionDenied: "permission denied",
	Timeout:          "operation timed out",
	Cancelled:        "operation cancelled",
	NotImplemented:   "not implemented",
	InternalError:    "internal error",
	InvalidState:     "invalid state",

	MemoryLoadFailed:   "failed to load memory",
	MemorySaveFailed:   "failed to save memory",
	MemoryCorrupted:    "memory data corrupted",
	CheckpointNotFound: "checkpoint not found",
	EpisodeNotFound:    "episode not found",
	SessionExpired:     "session expired",
	SessionNotFound:    "session not found",

	LLMConnectionFailed:    "failed to connect to LLM provider",
	LLMRateLimited:         "LLM rate limit exceeded",
	LLMContextOverflow:     "context window exceeded",
	LLMInvalidResponse:     "invalid response from LLM",
	LLMApiKeyMissing:       "API key not configured",
	LLMProviderUnavailable: "LLM provider unavailable",
	LLMTokenLimitExceeded:  "token limit exceeded",
	LLMStreamError:         "streaming error",

	ToolNotFound:         "tool not found",
	ToolExecutionFailed:  "tool execution failed",
	ToolValidationFailed: "tool parameter validation failed",
	ToolTimeout:          "tool execution timed out",
	ToolPermissionDenied: "tool permission denied",
	MCPConnectionFailed:  "MCP server connection failed",
	MCPProtocolError:     "MCP protocol error",
	ToolDisabled:         "tool is disabled",

	TRMModelNotLoaded:   "TRM model not loaded",
	TRMInferenceFailed:  "TRM inference failed",
	TRMTrainingFailed:   "TRM training failed",
	TRMInsufficientData: "insufficient training data",
	TRMModelCorrupted:   "TRM model file corrupted",

	ContextBuildFailed:      "failed to build context",
	ContextCompactionFailed: "context compaction failed",
	ContextTooLarge:         "context too large",

	ConfigNotFound:         "configuration file not found",
	ConfigParseFailed:      "failed to parse configuration",
	ConfigValidationFailed: "configuration validation failed",
	ConfigKeyMissing:       "required configuration key missing",

	FileNotFound:       "file not found",
	FileReadFailed:     "failed to read file",
	FileWriteFailed:    "failed to write file",
	DirectoryNotFound:  "directory not found",
	PathNotAllowed:     "path not allowed",
	FileTooLarge:       "file too large",

	NetworkError:         "network error",
	ConnectionRefused:    "connection refused",
	DNSResolutionFailed:  "DNS resolution failed",
	SSLError:             "SSL/TLS error",
}

// String returns the human-readable message for a code.
func (c Code) String() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "unrecognized error code"
}

var retriableCodes = map[Code]bool{
	LLMRateLimited:      true,
	LLMConnectionFailed: true,
	LLMStreamError:      true,
	ToolTimeout:         true,
	MCPConnectionFailed: true,
	NetworkError:        true,
	ConnectionRefused:   true,
	Timeout:             true,
}

var fatalCodes = map[Code]bool{
	LLMApiKeyMissing:       true,
	ConfigParseFailed:      true,
	ConfigValidationFailed: true,
	MemoryCorrupted:        true,
	PathNotAllowed:         true,
}

// IsRetriable reports whether an error of this code should be retried on a
// fallback provider or transport.
func (c Code) IsRetriable() bool { return retriableCodes[c] }

// IsFatal reports whether an error of this code should abort the process
// rather than be handled as a recoverable turn failure.
func (c Code) IsFatal() bool { return fatalCodes[c] }

// Error pairs a Code with a message and optional context/source, and
// implements the standard error interface.
type Error struct {
	Code    Code
	Message string
	Context string // additional context: file path, tool name, etc.
	Source  string // component that raised the error
	Wrapped error
}

// New builds an Error from a code, defaulting the message to the code's
// canonical text.
func New(code Code) *Error {
	return &Error{Code: code, Message: code.String()}
}

// Newf builds an Error from a code with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying error as context while classifying it under code.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Wrapped: err}
}

// WithContext returns a copy of e with Context set.
func (e *Error) WithContext(ctx string) *Error {
	cp := *e
	cp.Context = ctx
	return &cp
}

// WithSource returns a copy of e with Source set.
func (e *Error) WithSource(source string) *Error {
	cp := *e
	cp.Source = source
	return &cp
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Context != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Context)
	}
	if e.Source != "" {
		msg = fmt.Sprintf("%s at %s", msg, e.Source)
	}
	return fmt.Sprintf("[%d] %s", e.Code, msg)
}

// Unwrap exposes the wrapped error, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Wrapped }

// IsRetriable reports whether this error should be retried on a fallback.
func (e *Error) IsRetriable() bool { return e.Code.IsRetriable() }

// IsFatal reports whether this error should abort the process.
func (e *Error) IsFatal() bool { return e.Code.IsFatal() }

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	for err != nil {
		if ek, ok := err.(*Error); ok {
			e = ek
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e, e != nil
}
