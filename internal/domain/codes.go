package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// CodeClass groups envelope codes into the four outcome families.
type CodeClass string

const (
	CodeClassSuccess    CodeClass = "success"
	CodeClassNeedsInput CodeClass = "needs_input"
	CodeClassRejection  CodeClass = "rejection"
	CodeClassError      CodeClass = "error"
)

// Code is the machine-readable outcome of a stage. Only the constants
// below are valid; use ParseCode for untrusted input.
type Code string

const (
	// Success
	CodeOK             Code = "OK"
	CodeOKWithWarnings Code = "OK_WITH_WARNINGS"

	// Needs input
	CodeNeedsInput         Code = "NEEDS_INPUT"
	CodeNeedsClarification Code = "NEEDS_CLARIFICATION"

	// Rejection
	CodeRejected       Code = "REJECTED"
	CodeOrderViolation Code = "ORDER_VIOLATION"
	CodeSessionClosed  Code = "SESSION_CLOSED"
	CodeUnknownStage   Code = "UNKNOWN_STAGE"
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// Error
	CodeEyeError             Code = "EYE_ERROR"
	CodeEyeTimeout           Code = "EYE_TIMEOUT"
	CodeRoutingNotConfigured Code = "ROUTING_NOT_CONFIGURED"
	CodeInternalError        Code = "INTERNAL_ERROR"
)

var codeClasses = map[Code]CodeClass{
	CodeOK:                   CodeClassSuccess,
	CodeOKWithWarnings:       CodeClassSuccess,
	CodeNeedsInput:           CodeClassNeedsInput,
	CodeNeedsClarification:   CodeClassNeedsInput,
	CodeRejected:             CodeClassRejection,
	CodeOrderViolation:       CodeClassRejection,
	CodeSessionClosed:        CodeClassRejection,
	CodeUnknownStage:         CodeClassRejection,
	CodeInvalidRequest:       CodeClassRejection,
	CodeEyeError:             CodeClassError,
	CodeEyeTimeout:           CodeClassError,
	CodeRoutingNotConfigured: CodeClassError,
	CodeInternalError:        CodeClassError,
}

var allCodes = []Code{
	CodeOK, CodeOKWithWarnings,
	CodeNeedsInput, CodeNeedsClarification,
	CodeRejected, CodeOrderViolation, CodeSessionClosed, CodeUnknownStage, CodeInvalidRequest,
	CodeEyeError, CodeEyeTimeout, CodeRoutingNotConfigured, CodeInternalError,
}

// CodesOf returns the codes of class in declaration order.
func CodesOf(class CodeClass) []Code {
	var out []Code
	for _, c := range allCodes {
		if codeClasses[c] == class {
			out = append(out, c)
		}
	}
	return out
}

// ParseCode normalizes s and returns the matching Code.
func ParseCode(s string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := codeClasses[c]; !ok {
		return "", fmt.Errorf("unknown code %q", s)
	}
	return c, nil
}

// Class returns the outcome family of c. Unknown codes report CodeClassError.
func (c Code) Class() CodeClass {
	if class, ok := codeClasses[c]; ok {
		return class
	}
	return CodeClassError
}

// Valid reports whether c is part of the taxonomy.
func (c Code) Valid() bool {
	_, ok := codeClasses[c]
	return ok
}

// Reserved reports whether c is produced only by the orchestrator. A stage
// result carrying a reserved code is malformed.
func (c Code) Reserved() bool {
	switch c {
	case CodeOrderViolation, CodeSessionClosed, CodeUnknownStage, CodeInvalidRequest,
		CodeEyeError, CodeEyeTimeout, CodeRoutingNotConfigured, CodeInternalError:
		return true
	}
	return false
}

// HTTPStatus maps c onto a transport status code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeOrderViolation:
		return http.StatusConflict
	case CodeEyeTimeout:
		return http.StatusGatewayTimeout
	case CodeEyeError:
		return http.StatusBadGateway
	case CodeRoutingNotConfigured, CodeInternalError:
		return http.StatusInternalServerError
	}
	switch c.Class() {
	case CodeClassSuccess:
		return http.StatusOK
	case CodeClassNeedsInput:
		return http.StatusBadRequest
	case CodeClassRejection:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
