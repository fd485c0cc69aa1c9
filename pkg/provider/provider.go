// Package provider defines the provider-agnostic interface for dispatching
// RFC 3161 timestamp requests to an external TSA, and the default HTTP
// implementation of that interface.
package provider

import (
	"context"
	"time"

	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
)

// Outcome is the result of a single send_request call. The adapter never
// panics or returns a Go error to the caller for a transport failure; every
// failure is reported as Success=false with a classified Error string.
type Outcome struct {
	Success  bool
	Response *asn1tsp.Response
	Error    string // one of the classified substrings documented below, or ""
	Latency  time.Duration
}

// Classified error substrings. C2's classifier keys off these; adapters
// must never invent new vocabulary, so that health classification and the
// orchestrator's error mapping stay in sync across every provider.
const (
	ErrTimeNotAvailable  = "timeNotAvailable"
	ErrSystemFailure     = "systemFailure"
	ErrBadAlg            = "badAlg"
	ErrConnectionFailure = "connectionFailure"
	ErrTimeout           = "timeout"
	ErrHTTP4xx           = "HTTP 4xx"
	ErrHTTP5xx           = "HTTP 5xx"
	ErrPolicyRejected    = "Policy rejected by provider"
	ErrNonceMismatch     = "Nonce echoed by provider did not match"
)

// Adapter is the capability shared by every provider implementation: send a
// request and cancel it. Implementations are interchangeable variants
// behind this single capability set — there is no inheritance hierarchy.
type Adapter interface {
	// ID returns the stable provider identifier used in routing priority
	// and health records (e.g. "digicert").
	ID() string

	// SendRequest dispatches req to the provider and blocks until a
	// response, a classified failure, or ctx cancellation. Cancellation
	// via ctx must cause a prompt return with Outcome{Success:false,
	// Error:ErrTimeout}.
	SendRequest(ctx context.Context, req asn1tsp.Request) Outcome
}
