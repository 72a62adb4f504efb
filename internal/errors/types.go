// Package errors defines the structured error type used across spadev and
// the suggestion helpers the CLI prints when startup fails.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeSecurity ErrorType = "security"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeBuild    ErrorType = "build"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Error codes shared between packages so callers can match with errors.Is.
const (
	CodeTemplateMissing   = "ERR_TEMPLATE_MISSING"
	CodeTemplateParse     = "ERR_TEMPLATE_PARSE"
	CodeManifestEmpty     = "ERR_MANIFEST_EMPTY"
	CodePolicyUnavailable = "ERR_POLICY_UNAVAILABLE"
	CodeUpstreamStart     = "ERR_UPSTREAM_START"
	CodeUpstreamNoURL     = "ERR_UPSTREAM_NO_URL"
	CodeListen            = "ERR_LISTEN"
	CodeStaging           = "ERR_STAGING"
	CodeInvalidConfig     = "ERR_INVALID_CONFIG"
)

// SpadevError carries a category and a code callers can branch on, plus the
// file and component it concerns.
type SpadevError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Component string
	FilePath  string
}

func newError(t ErrorType, code, message string, cause error) *SpadevError {
	return &SpadevError{Type: t, Code: code, Message: message, Cause: cause}
}

// Error renders "[code] component:name file message: cause", leaving out
// the parts that are empty.
func (e *SpadevError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	if e.Component != "" {
		fmt.Fprintf(&b, "component:%s ", e.Component)
	}
	if e.FilePath != "" {
		b.WriteString(e.FilePath + " ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *SpadevError) Unwrap() error {
	return e.Cause
}

// Is matches another SpadevError with the same type and code.
func (e *SpadevError) Is(target error) bool {
	t, ok := target.(*SpadevError)
	return ok && e.Type == t.Type && e.Code == t.Code
}

// WithContext records a key/value pair for logging.
func (e *SpadevError) WithContext(key string, value interface{}) *SpadevError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithFile records the file the error is about.
func (e *SpadevError) WithFile(path string) *SpadevError {
	e.FilePath = path
	return e
}

// WithComponent records the component that failed.
func (e *SpadevError) WithComponent(component string) *SpadevError {
	e.Component = component
	return e
}

func NewSecurityError(code, message string, cause error) *SpadevError {
	return newError(ErrorTypeSecurity, code, message, cause)
}

func NewBuildError(code, message string, cause error) *SpadevError {
	return newError(ErrorTypeBuild, code, message, cause)
}

func NewIOError(code, message string, cause error) *SpadevError {
	return newError(ErrorTypeIO, code, message, cause)
}

func NewNetworkError(code, message string, cause error) *SpadevError {
	return newError(ErrorTypeNetwork, code, message, cause)
}

func NewConfigError(code, message string, cause error) *SpadevError {
	return newError(ErrorTypeConfig, code, message, cause)
}

func NewInternalError(code, message string, cause error) *SpadevError {
	return newError(ErrorTypeInternal, code, message, cause)
}

// HasCode reports whether err or any SpadevError in its cause chain has
// code. Startup errors nest (an upstream start failure caused by a missing
// address), and the CLI explains the outermost code it knows.
func HasCode(err error, code string) bool {
	var se *SpadevError
	for errors.As(err, &se) {
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}

// TypeOf returns the category of the first SpadevError in err's chain, or
// the empty type.
func TypeOf(err error) ErrorType {
	var se *SpadevError
	if errors.As(err, &se) {
		return se.Type
	}
	return ""
}

// IsSecurityError reports whether the error is a security error.
func IsSecurityError(err error) bool {
	return TypeOf(err) == ErrorTypeSecurity
}
