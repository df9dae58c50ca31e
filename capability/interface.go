// Package capability defines the contract between the core and the
// per-command-class implementations that plug into it. A capability is a
// codec plus a state cache: it encodes requests, decodes reports into its
// persistence section and declares the interview steps that populate that
// section at bring up. The dispatch and correlation machinery is written
// once in the core against this contract, never per capability.
package capability

import (
	"context"

	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

type DetachType int

const (
	// DeviceRemoved is used when the node has left the network; it has
	// already gone and no communication should be attempted.
	DeviceRemoved DetachType = iota
	// NoLongerSupported is used when a re-interview no longer lists this
	// command class, the cached state for it is stale.
	NoLongerSupported
)

// Controller is the core's face to one capability instance: addressing,
// transmission, correlation, versioning and the instance's slice of the
// state cache. Provided to the implementation at Attach.
type Controller interface {
	// Address identifies the (node, endpoint, command class) triple this
	// instance is bound to.
	Address() communicator.Address

	// Version is the effective negotiated version for this instance,
	// gating optional fields during encode and decode. At least 1, and
	// immutable once the interview has completed.
	Version() uint8

	// VersionKnown reports whether Version has been negotiated yet, or is
	// still the version 1 assumption made before first interview.
	VersionKnown() bool

	// Send transmits a request with no reply expected.
	Send(ctx context.Context, f frame.Frame) error

	// Exchange registers a waiter for replyID frames satisfying predicate,
	// then transmits f, then awaits the reply. Registration strictly
	// precedes transmission so a fast node cannot reply into the void. The
	// deadline and cancellation signal are carried by ctx; the returned
	// error is communicator.ErrTimedOut, communicator.ErrCancelled, a
	// transport error, or nil.
	Exchange(ctx context.Context, f frame.Frame, replyID uint8, predicate communicator.Predicate) (frame.Frame, error)

	// Section is this instance's slice of the state cache. Fields are
	// unknown until first written; reads return (value, ok).
	Section() persistence.Section

	// SendEvent publishes a state change to the gateway's event stream.
	SendEvent(event any)
}

// InterviewStep is one request/await cycle of a capability's bring up
// script. Steps run in order; later steps may depend on state cached by
// earlier ones.
type InterviewStep struct {
	Name string
	Run  func(ctx context.Context) error
}

// Implementation is the four-operation plugin contract every command class
// implementation satisfies.
type Implementation interface {
	// CommandClass returns the class this implementation speaks.
	CommandClass() frame.CommandClass

	// Name returns the human readable capability name.
	Name() string

	// Attach binds the implementation to a live instance. Called exactly
	// once, before any other method.
	Attach(c Controller)

	// CommandSupported reports whether the node is believed to accept the
	// command; the second return is false while this is still unknown,
	// such as before the interview has run.
	CommandSupported(commandID uint8) (bool, bool)

	// InterviewSteps returns the ordered bring up script used to populate
	// the state cache before the instance is considered ready.
	InterviewSteps() []InterviewStep

	// HandleUnsolicited decodes a report that matched no waiter and folds
	// it into the state cache. A decode failure must leave the cache
	// untouched.
	HandleUnsolicited(ctx context.Context, f frame.Frame) error

	// Detach is called when the instance is destroyed; NoLongerSupported
	// detaches should discard cached state.
	Detach(ctx context.Context, detachType DetachType) error
}
