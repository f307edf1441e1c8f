package interfaces

import "errors"

// Error taxonomy for the container core. Operations wrap these sentinels
// with fmt.Errorf("...: %w", ...) so callers can classify failures with
// errors.Is without parsing messages.
var (
	// ErrParameter indicates an invalid or unsupported input value, such as
	// a token type the container does not support or a state list that
	// contains mutually exclusive states.
	ErrParameter = errors.New("invalid parameter")

	// ErrResourceNotFound indicates that a referenced entity (token, user,
	// container) does not exist at all.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrTokenAdmin indicates a business-rule violation, such as assigning
	// an owner to a container that already has one.
	ErrTokenAdmin = errors.New("token admin error")

	// ErrNotRegistered indicates that a protocol operation requires a
	// completed registration but no client public key is on file.
	ErrNotRegistered = errors.New("container is not registered")

	// ErrInvalidChallenge indicates that challenge verification failed. The
	// message deliberately does not say which part of the verification
	// failed.
	ErrInvalidChallenge = errors.New("could not verify signature")

	// ErrNotImplemented indicates that a protocol operation is not
	// supported by the container type it was invoked on.
	ErrNotImplemented = errors.New("not implemented for this container type")

	// ErrContainerNotFound indicates the container serial is unknown to the
	// backend.
	ErrContainerNotFound = errors.New("container not found")

	// ErrBackendUnavailable indicates a storage backend could not be
	// reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)
