package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies where a failure originated.
type Kind string

const (
	KindAuth     Kind = "auth"
	KindUpstream Kind = "upstream"
	KindNetwork  Kind = "network"
	KindConfig   Kind = "config"
	KindInternal Kind = "internal"
)

// ClassifiedError is an error that carries everything needed to render it
// to a client: a stable machine-readable code and the HTTP status.
type ClassifiedError struct {
	Kind    Kind   `json:"-"`
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
	// Details is the decoded upstream error body, if any.
	Details any `json:"details,omitempty"`
	// Detail is diagnostic text for the server log only.
	Detail     string `json:"-"`
	underlying error
}

func (e *ClassifiedError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as {"error","code"} with the carried status.
func (e *ClassifiedError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	w.Write(e.Body())
}

// Body returns the JSON body for the error.
func (e *ClassifiedError) Body() []byte {
	if pre, ok := preSerialized[e]; ok {
		return pre
	}
	b, err := json.Marshal(e)
	if err != nil {
		return preSerialized[ErrInternal]
	}
	return b
}

// WithDetail returns a copy carrying diagnostic text.
func (e *ClassifiedError) WithDetail(detail string) *ClassifiedError {
	c := *e
	c.Detail = detail
	return &c
}

// WithDetails returns a copy carrying a decoded upstream body.
func (e *ClassifiedError) WithDetails(details any) *ClassifiedError {
	c := *e
	c.Details = details
	return &c
}

// Common errors
var (
	ErrInternal = &ClassifiedError{
		Kind:    KindInternal,
		Status:  http.StatusInternalServerError,
		Message: "Internal server error",
		Code:    "INTERNAL_ERROR",
	}

	ErrNoRoute = &ClassifiedError{
		Kind:    KindInternal,
		Status:  http.StatusNotFound,
		Message: "No match found.",
		Code:    "NO_ROUTE",
	}

	ErrConfigMissing = &ClassifiedError{
		Kind:    KindConfig,
		Status:  http.StatusNotImplemented,
		Message: "API configuration is missing",
		Code:    "CONFIG_MISSING",
	}

	ErrMissingToken = &ClassifiedError{
		Kind:    KindAuth,
		Status:  http.StatusUnauthorized,
		Message: "No token provided or token format is invalid.",
		Code:    "AUTH_ERROR",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*ClassifiedError][]byte

func init() {
	bases := []*ClassifiedError{ErrInternal, ErrNoRoute, ErrConfigMissing, ErrMissingToken}
	preSerialized = make(map[*ClassifiedError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		preSerialized[e] = b
	}
}

// New creates a ClassifiedError of the given kind.
func New(kind Kind, status int, code, message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:    kind,
		Status:  status,
		Message: message,
		Code:    code,
	}
}

// Auth creates an authentication error.
func Auth(status int, code, message string) *ClassifiedError {
	return New(KindAuth, status, code, message)
}

// Upstream creates an error mirroring a backend's rejection.
func Upstream(status int, code, message string) *ClassifiedError {
	return New(KindUpstream, status, code, message)
}

// Network creates a transport-level failure. The status is always 502.
func Network(code, message string) *ClassifiedError {
	return New(KindNetwork, http.StatusBadGateway, code, message)
}

// Config creates a gateway misconfiguration error.
func Config(code, message string) *ClassifiedError {
	return New(KindConfig, http.StatusInternalServerError, code, message)
}

// Internal creates an unanticipated failure.
func Internal(code, message string) *ClassifiedError {
	return New(KindInternal, http.StatusInternalServerError, code, message)
}

// Wrap attaches an underlying cause to a new classified error.
func Wrap(err error, kind Kind, status int, code, message string) *ClassifiedError {
	e := New(kind, status, code, message)
	e.underlying = err
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

// Cause returns a copy of e with err attached as the underlying cause.
func (e *ClassifiedError) Cause(err error) *ClassifiedError {
	c := *e
	c.underlying = err
	if err != nil && c.Detail == "" {
		c.Detail = err.Error()
	}
	return &c
}

// As finds the first ClassifiedError in err's chain.
func As(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Resolve returns the classified error for err, or ErrInternal when err
// carries no classification.
func Resolve(err error) *ClassifiedError {
	if ce, ok := As(err); ok {
		return ce
	}
	return ErrInternal
}
