package hxlive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pthm/hxlive/lib/markup"
)

// Sentinel errors for the message protocol. The handler answers these with
// {"error": message} and status 200 so the browser script can always parse
// the body.
var (
	ErrMissingChecksum  = errors.New("hxlive: missing checksum")
	ErrChecksumMismatch = errors.New("hxlive: checksum does not match")
	ErrMissingID        = errors.New("hxlive: missing component id")
	ErrMissingData      = errors.New("hxlive: missing data")
	ErrUnknownAction    = errors.New("hxlive: unknown action type")
	ErrInvalidJSON      = errors.New("hxlive: invalid JSON body")
	ErrUnknownMethod    = errors.New("hxlive: unknown method")
	ErrInvalidArguments = errors.New("hxlive: invalid method arguments")
	ErrNoParent         = errors.New("hxlive: component has no parent")
)

// Control and programmer errors.
var (
	// ErrNotModified is returned by Dispatch when the rendered output is
	// identical to what the client already has. It maps to HTTP 304.
	ErrNotModified = errors.New("hxlive: not modified")

	// ErrMissingErrorCode is returned when a method reports a validation
	// error without a machine readable code.
	ErrMissingErrorCode = errors.New("hxlive: validation error has no code")

	// ErrUnknownAttribute is wrapped by AttributeError when a name does not
	// resolve to a public field.
	ErrUnknownAttribute = errors.New("hxlive: unknown attribute")

	// ErrNoModelStore is returned when a model name or type has no store.
	ErrNoModelStore = errors.New("hxlive: no model store")

	// ErrMultipleRoots and ErrNoRoot report templates that do not render
	// exactly one root element.
	ErrMultipleRoots = markup.ErrMultipleRoots
	ErrNoRoot        = markup.ErrNoRoot
)

var protocolErrors = []error{
	ErrMissingChecksum,
	ErrChecksumMismatch,
	ErrMissingID,
	ErrMissingData,
	ErrUnknownAction,
	ErrInvalidJSON,
	ErrUnknownMethod,
	ErrInvalidArguments,
	ErrNoParent,
}

// IsProtocolError reports whether err is caused by a malformed or tampered
// message rather than by component code.
func IsProtocolError(err error) bool {
	for _, target := range protocolErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotModified checks if err is the render-not-modified signal.
func IsNotModified(err error) bool {
	return errors.Is(err, ErrNotModified)
}

// ComponentLoadError is returned when a component name cannot be resolved.
// Tried lists the registered names that were considered.
type ComponentLoadError struct {
	Name  string
	Tried []string
}

func (e *ComponentLoadError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("hxlive: component %q is not registered", e.Name)
	}
	return fmt.Sprintf("hxlive: component %q is not registered (tried %s)", e.Name, strings.Join(e.Tried, ", "))
}

// IsComponentLoadError checks if err is a ComponentLoadError.
func IsComponentLoadError(err error) bool {
	var target *ComponentLoadError
	return errors.As(err, &target)
}

// AttributeError is returned when a property cannot be read or set.
type AttributeError struct {
	Component string
	Name      string
	Err       error
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("hxlive: %s.%s: %v", e.Component, e.Name, e.Err)
}

func (e *AttributeError) Unwrap() error { return e.Err }

// IsAttributeError checks if err is an AttributeError.
func IsAttributeError(err error) bool {
	var target *AttributeError
	return errors.As(err, &target)
}

// NotSerializableError is returned when a component in a tree cannot be
// encoded for the cache. Nothing from the tree is written.
type NotSerializableError struct {
	ID   string
	Name string
	Err  error
}

func (e *NotSerializableError) Error() string {
	return fmt.Sprintf("hxlive: component %s (%s) is not serializable: %v", e.Name, e.ID, e.Err)
}

func (e *NotSerializableError) Unwrap() error { return e.Err }

// IsNotSerializable checks if err is a NotSerializableError.
func IsNotSerializable(err error) bool {
	var target *NotSerializableError
	return errors.As(err, &target)
}
