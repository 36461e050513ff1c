package fastnet

import (
	"github.com/google/uuid"

	"github.com/ahicks92/fastnet/pkg/logger"
)

// Handler receives every user-visible event from an Endpoint's I/O
// thread. Implementations must not block: a blocking callback stalls the
// whole endpoint, since the core is single-threaded cooperative (spec
// §5). None of these are called more than once for the same requestId.
type Handler interface {
	// Connected fires once a connection reaches the Established state,
	// whether it was locally initiated (requestID non-nil) or accepted
	// from a peer (requestID nil).
	Connected(id uuid.UUID, requestID *uint64)
	// Disconnected fires once a connection transitions to Closed after
	// having been Established.
	Disconnected(id uuid.UUID, requestID *uint64)
	// IncomingMessage fires once per fully reassembled frame.
	IncomingMessage(id uuid.UUID, channel int16, payload []byte)
	// RequestFailed reports a terminal error for a pending requestId.
	RequestFailed(requestID uint64, err *Error)
	// RoundtripEstimate reports a new rolling-average RTT in milliseconds.
	RoundtripEstimate(id uuid.UUID, ms uint32)
}

// NopHandler implements Handler with no-op bodies, useful as an
// embeddable base for callers that only care about a subset of events.
type NopHandler struct{}

func (NopHandler) Connected(uuid.UUID, *uint64)             {}
func (NopHandler) Disconnected(uuid.UUID, *uint64)          {}
func (NopHandler) IncomingMessage(uuid.UUID, int16, []byte) {}
func (NopHandler) RequestFailed(uint64, *Error)             {}
func (NopHandler) RoundtripEstimate(uuid.UUID, uint32)      {}

// PrintingHandler logs every callback through pkg/logger. Handy for the
// example binary and for tests that need a Handler without writing one.
type PrintingHandler struct{}

func (PrintingHandler) Connected(id uuid.UUID, requestID *uint64) {
	logger.Info("connected: %s (request %v)", id, requestID)
}

func (PrintingHandler) Disconnected(id uuid.UUID, requestID *uint64) {
	logger.Warn("disconnected: %s (request %v)", id, requestID)
}

func (PrintingHandler) IncomingMessage(id uuid.UUID, channel int16, payload []byte) {
	logger.Debug("message from %s on channel %d: %d bytes", id, channel, len(payload))
}

func (PrintingHandler) RequestFailed(requestID uint64, err *Error) {
	logger.Error("request %d failed: %v", requestID, err)
}

func (PrintingHandler) RoundtripEstimate(id uuid.UUID, ms uint32) {
	logger.InfoCyan("roundtrip estimate for %s: %dms", id, ms)
}
