package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrDeviceEnumeration is wrapped by catalog errors when the host audio
// subsystem is unavailable or reports no devices. It is fatal to startup.
var ErrDeviceEnumeration = errors.New("audio device enumeration failed")

// ErrDeviceUnavailable matches every [*DeviceUnavailableError] via errors.Is.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrRemoteService matches every [*RemoteServiceError] via errors.Is.
var ErrRemoteService = errors.New("remote service error")

// ErrTranscription matches every [*TranscriptionError] via errors.Is.
var ErrTranscription = errors.New("transcription failed")

// DeviceUnavailableError reports that a device could not be opened or streamed,
// for example because it was unplugged or is held by another process.
type DeviceUnavailableError struct {
	Device DeviceDescriptor

	// Op is the failing operation: "capture" or "playback".
	Op string

	Err error
}

func (e *DeviceUnavailableError) Error() string {
	return fmt.Sprintf("%s on device %d (%q): %v", e.Op, e.Device.Index, e.Device.Name, e.Err)
}

func (e *DeviceUnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDeviceUnavailable) true.
func (e *DeviceUnavailableError) Is(target error) bool { return target == ErrDeviceUnavailable }

// RemoteKind classifies a remote-service failure.
type RemoteKind string

const (
	KindNetwork   RemoteKind = "network"
	KindAuth      RemoteKind = "auth"
	KindRateLimit RemoteKind = "rate_limit"
	KindService   RemoteKind = "service"
)

// RemoteServiceError is returned by response generators and speech
// synthesizers. Kind tells the operator whether to check connectivity,
// credentials, quota, or the provider itself.
type RemoteServiceError struct {
	// Provider is the backend name (e.g., "openai", "elevenlabs").
	Provider string

	// Op is the failing operation: "generate" or "synthesize".
	Op string

	Kind RemoteKind

	// StatusCode is the HTTP status when one was received, otherwise 0.
	StatusCode int

	Err error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s error (HTTP %d): %v", e.Provider, e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRemoteService) true.
func (e *RemoteServiceError) Is(target error) bool { return target == ErrRemoteService }

// NewRemoteError builds a RemoteServiceError. A non-zero status decides the
// kind; otherwise the kind is derived from err.
func NewRemoteError(provider, op string, status int, err error) *RemoteServiceError {
	kind := KindForStatus(status)
	if status == 0 {
		kind = ClassifyTransport(err)
	}
	return &RemoteServiceError{Provider: provider, Op: op, Kind: kind, StatusCode: status, Err: err}
}

// KindForStatus maps an HTTP status code to a RemoteKind.
func KindForStatus(status int) RemoteKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindNetwork
	default:
		return KindService
	}
}

// ClassifyTransport returns KindNetwork for transport-level failures
// (DNS, refused connections, timeouts) and KindService for everything else.
func ClassifyTransport(err error) RemoteKind {
	if err == nil {
		return KindService
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}
	return KindService
}

// TranscriptionError reports a failed speech-to-text run on one clip.
type TranscriptionError struct {
	Backend string
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("%s transcription: %v", e.Backend, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTranscription) true.
func (e *TranscriptionError) Is(target error) bool { return target == ErrTranscription }

// statusCoder is implemented by errors that carry an HTTP status code.
type statusCoder interface {
	HTTPStatus() int
}

// ClassifyRemote returns the RemoteKind and HTTP status for err. Errors in the
// chain that implement HTTPStatus() int decide the kind by status; anything
// else falls back to [ClassifyTransport].
func ClassifyRemote(err error) (RemoteKind, int) {
	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		return KindForStatus(sc.HTTPStatus()), sc.HTTPStatus()
	}
	return ClassifyTransport(err), 0
}
