package protocol

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// KindSession is the catch-all for transport and session failures reported by a lock
	// session. Hosts see these under the failing command's own code.
	KindSession Kind = iota
	KindInvalidArgument
	KindNetwork
	KindServer
	KindNotFound
	KindStorage
	KindDeviceResetRequired
)

// Failure codes reported to hosts.
const (
	CodeInvalidArgs         = "INVALID_ARGS"
	CodeInvalidHex          = "INVALID_HEX"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeNetwork             = "NETWORK_ERROR"
	CodeServer              = "SERVER_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeStorage             = "STORAGE_ERROR"
	CodeDeviceResetRequired = "DEVICE_RESET_REQUIRED"
	CodeProvisioning        = "PROVISIONING_FAILED"
	CodeAlreadyConnected    = "ALREADY_CONNECTED"
	CodeBusy                = "BUSY"
	CodeClosed              = "BRIDGE_CLOSED"
	CodeInternal            = "INTERNAL"
)

var kindCodes = map[Kind]string{
	KindInvalidArgument:     CodeInvalidArgs,
	KindNetwork:             CodeNetwork,
	KindServer:              CodeServer,
	KindNotFound:            CodeNotFound,
	KindStorage:             CodeStorage,
	KindDeviceResetRequired: CodeDeviceResetRequired,
}

var kindNames = map[Kind]string{
	KindSession:             "session error",
	KindInvalidArgument:     "invalid argument",
	KindNetwork:             "network error",
	KindServer:              "server error",
	KindNotFound:            "not found",
	KindStorage:             "storage error",
	KindDeviceResetRequired: "device needs factory reset",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Use errors.Is against the sentinel values below to test the
// Kind of an error anywhere in a wrapped chain.
type Error struct {
	Kind Kind
	Err  error

	// code overrides the default code for Kind.
	code              string
	PossibleSuccess   bool
	PossibleTemporary bool
}

var (
	// ErrInvalidArgument indicates missing or malformed command arguments.
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	// ErrNetwork indicates the remote API could not be reached.
	ErrNetwork = &Error{Kind: KindNetwork}
	// ErrServer indicates the remote API rejected a request or returned an unusable response.
	ErrServer = &Error{Kind: KindServer}
	// ErrNotFound indicates the remote API does not know the requested device or registration.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrStorage indicates trust material could not be read from or written to local storage.
	ErrStorage = &Error{Kind: KindStorage}
	// ErrDeviceResetRequired indicates the lock refuses sessions until it is factory reset.
	ErrDeviceResetRequired = &Error{Kind: KindDeviceResetRequired}
	// ErrSession is the generic session failure.
	ErrSession = &Error{Kind: KindSession}

	// ErrNotConnected indicates a command was sent without an established session.
	ErrNotConnected = SessionError(errors.New("lock not connected"))
)

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	if e.Kind == KindSession {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the host-facing failure code. Session errors have no code of their own; the
// failing command supplies one.
func (e *Error) Code() string {
	if e.code != "" {
		return e.code
	}
	return kindCodes[e.Kind]
}

func (e *Error) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *Error) Temporary() bool {
	return e.PossibleTemporary
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(format string, a ...interface{}) error {
	return &Error{Kind: KindInvalidArgument, Err: fmt.Errorf(format, a...)}
}

// InvalidHex builds the KindInvalidArgument error reported for unparseable hex commands.
func InvalidHex(value string) error {
	return &Error{Kind: KindInvalidArgument, Err: fmt.Errorf("invalid hex format: %s", value), code: CodeInvalidHex}
}

// NetworkError wraps a transport failure. Network errors are temporary.
func NetworkError(err error) error {
	return &Error{Kind: KindNetwork, Err: err, PossibleTemporary: true}
}

// ServerError wraps a failure reported by the remote API. Server errors are temporary when the
// server says so (HTTP 5xx); temporary is supplied by the caller.
func ServerError(err error, temporary bool) error {
	return &Error{Kind: KindServer, Err: err, PossibleTemporary: temporary}
}

func NotFoundError(err error) error {
	return &Error{Kind: KindNotFound, Err: err}
}

func StorageError(err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return &Error{Kind: KindStorage, Err: err}
}

func DeviceResetRequiredError(err error) error {
	return &Error{Kind: KindDeviceResetRequired, Err: err}
}

// SessionError wraps a failure reported by a lock session.
func SessionError(err error) error {
	return &Error{Kind: KindSession, Err: err}
}

// ProvisioningError indicates trust material could not be obtained for a lock. The cause is
// available through errors.Unwrap, so errors.Is(err, ErrNetwork) etc. still work.
type ProvisioningError struct {
	Serial string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("failed to provision certificate for %s: %s", e.Serial, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

func (e *ProvisioningError) Temporary() bool {
	return Temporary(e.Err)
}

func (e *ProvisioningError) MayHaveSucceeded() bool {
	return false
}

// Failure is the structured (code, message) error handed to hosts. Every command result that
// is not a success is a *Failure.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// NewFailure builds a Failure with a formatted message.
func NewFailure(code, format string, a ...interface{}) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, a...)}
}

// ToFailure converts err into a Failure. Classified errors keep their own code; anything else,
// including generic session errors, is reported under fallbackCode.
func ToFailure(err error, fallbackCode string) *Failure {
	if err == nil {
		return nil
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	var provErr *ProvisioningError
	if errors.As(err, &provErr) {
		return &Failure{Code: CodeProvisioning, Message: err.Error()}
	}
	var classified *Error
	if errors.As(err, &classified) {
		if code := classified.Code(); code != "" {
			return &Failure{Code: code, Message: err.Error()}
		}
	}
	return &Failure{Code: fallbackCode, Message: err.Error()}
}

type classifiable interface {
	MayHaveSucceeded() bool
	Temporary() bool
}

// MayHaveSucceeded returns true if err indicates a command may have been executed by the lock
// even though the client did not receive a confirmation (for example, a timeout after the
// command was written).
func MayHaveSucceeded(err error) bool {
	var c classifiable
	if errors.As(err, &c) && c.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err indicates the operation failed due to possibly transient
// conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var c classifiable
	if errors.As(err, &c) && c.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if a caller may reasonably retry the operation that triggered err.
// Nothing in this module retries on its own.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if MayHaveSucceeded(err) {
		return false
	}
	return Temporary(err)
}

// Timeout converts an expired context into a session error that may have succeeded: the lock
// can act on a command whose response was lost.
func Timeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindSession, Err: err, PossibleSuccess: true, PossibleTemporary: true}
	}
	return err
}
