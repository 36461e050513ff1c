package fastnet

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// MaxMessageSize bounds a single SendMessage payload. Oversize messages
// are rejected with MessageTooLarge before any packet is constructed,
// so the frame encoder and wire encoder never have to reject content
// that only a user could have produced (spec §7).
const MaxMessageSize = 64 << 20 // 64 MiB

// ConnState is the coarse connection lifecycle state (spec §3).
type ConnState int

const (
	StateClosed ConnState = iota
	StateEstablishing
	StateEstablished
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateEstablishing:
		return "establishing"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// establishingData is the payload of the Establishing state.
type establishingData struct {
	listening         bool
	compatibleVersion bool
	attempts          int
	requestID         *uint64
}

type senderState struct {
	nextSeq           uint64
	lastReliableFrame uint64
}

// Connection is one peer's connection state machine (C7): handshake,
// established-state heartbeats, per-channel senders and receivers, and
// the aborted/closing/closed transitions.
type Connection struct {
	State ConnState

	LocalUUID    uuid.UUID
	RemoteUUID   uuid.UUID
	EndpointUUID uuid.UUID
	Address      string

	SentPackets      uint64
	ReceivedPackets  uint64
	HeartbeatCounter uint64

	Roundtrip *RoundtripEstimator

	establishing *establishingData

	receivers map[int16]*ChannelReceiver
	senders   map[int16]*senderState
	acks      *AckManager

	channelMemoryLimit int
	timeoutMs          uint64
}

// NewConnection builds a Closed connection bound to address, owned by
// the endpoint identified by endpointUUID. timeoutMs is the configured
// connecting-phase timeout (spec §4.8); it scales the status/connect
// attempt caps relative to the default timeout.
func NewConnection(address string, endpointUUID uuid.UUID, channelMemoryLimit int, timeoutMs uint64) *Connection {
	return &Connection{
		State:              StateClosed,
		LocalUUID:          uuid.New(),
		EndpointUUID:       endpointUUID,
		Address:            address,
		Roundtrip:          NewRoundtripEstimator(),
		receivers:          make(map[int16]*ChannelReceiver),
		senders:            make(map[int16]*senderState),
		acks:               NewAckManager(),
		channelMemoryLimit: channelMemoryLimit,
		timeoutMs:          timeoutMs,
	}
}

// defaultTimeoutMs is the millisecond form of DefaultTimeout, against
// which a configured timeoutMs is scaled.
const defaultTimeoutMs = uint64(DefaultTimeout / time.Millisecond)

// scaledAttempts scales base in proportion to how c.timeoutMs compares
// to the default timeout, floored at 1 attempt so a very short timeout
// still gets to try once. At the default timeout this is exactly base.
func (c *Connection) scaledAttempts(base int) int {
	if c.timeoutMs == 0 || c.timeoutMs == defaultTimeoutMs {
		return base
	}
	scaled := int(math.Round(float64(base) * float64(c.timeoutMs) / float64(defaultTimeoutMs)))
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

func (c *Connection) statusAttemptsCap() int  { return c.scaledAttempts(StatusAttempts) }
func (c *Connection) connectAttemptsCap() int { return c.scaledAttempts(ConnectAttempts) }

func (c *Connection) receiver(channel int16) *ChannelReceiver {
	r, ok := c.receivers[channel]
	if !ok {
		r = NewChannelReceiver(channel, c.channelMemoryLimit)
		c.receivers[channel] = r
	}
	return r
}

func (c *Connection) sender(channel int16) *senderState {
	s, ok := c.senders[channel]
	if !ok {
		s = &senderState{}
		c.senders[channel] = s
	}
	return s
}

// Establish begins the handshake as the connecting side, returning the
// initial FastnetQuery to transmit.
func (c *Connection) Establish(requestID *uint64) *Packet {
	c.State = StateEstablishing
	c.establishing = &establishingData{requestID: requestID}
	return &Packet{Channel: ChannelStatus, StatusRequest: &StatusRequest{Kind: FastnetQuery}}
}

// Disconnect closes the connection. A local disconnect needs no ack
// from the peer, so the Closing state collapses straight through to
// Closed within this call: we notify Aborted to the peer and, if the
// connection had reached Established, fire Disconnected immediately.
func (c *Connection) Disconnect(requestID *uint64, h Handler) *Packet {
	wasEstablished := c.State == StateEstablished
	c.establishing = nil
	c.State = StateClosed
	if wasEstablished {
		h.Disconnected(c.LocalUUID, requestID)
	}
	reason := "disconnect"
	return &Packet{Channel: ChannelStatus, Aborted: &reason}
}

// currentProbe returns the packet that should be (re)sent while
// Establishing, reflecting whichever handshake phase is in progress.
func (c *Connection) currentProbe() *Packet {
	e := c.establishing
	switch {
	case !e.listening:
		return &Packet{Channel: ChannelStatus, StatusRequest: &StatusRequest{Kind: FastnetQuery}}
	case !e.compatibleVersion:
		return &Packet{Channel: ChannelStatus, StatusRequest: &StatusRequest{Kind: VersionQuery}}
	default:
		local := c.LocalUUID
		return &Packet{Channel: ChannelStatus, Connect: &local}
	}
}

// HandlePacket routes one decoded packet through the state machine,
// invoking h synchronously for any user-visible event, and returns any
// packets that must be transmitted in reply.
func (c *Connection) HandlePacket(p *Packet, now time.Time, h Handler) []*Packet {
	c.ReceivedPackets++

	switch {
	case p.Channel == ChannelStatus && p.StatusResponse != nil:
		return c.handleStatusResponse(p.StatusResponse, h)
	case p.Channel == ChannelStatus && p.Connected != nil:
		return c.handleConnected(*p.Connected, h)
	case p.Channel == ChannelStatus && p.Aborted != nil:
		return c.handleAborted(*p.Aborted, h)
	case p.Channel == ChannelStatus && p.Connect != nil:
		return c.handleDuplicateConnect(*p.Connect)
	case p.Channel == ChannelHeartbeat:
		return nil
	case p.Channel == ChannelEcho:
		return c.handleEcho(p.Echo, now, h)
	case p.Data != nil:
		return c.handleData(p.Channel, p.Data, h)
	case p.Ack != nil:
		c.acks.SubmitIncomingAck(p.Channel, p.Ack.SequenceNumber)
		return nil
	default:
		return nil
	}
}

func (c *Connection) handleStatusResponse(r *StatusResponse, h Handler) []*Packet {
	if c.State != StateEstablishing {
		return nil
	}
	e := c.establishing

	switch r.Kind {
	case FastnetResponse:
		if e.listening {
			return nil
		}
		if !r.Listening {
			c.failEstablish(h, NotListening)
			return nil
		}
		e.listening = true
		e.attempts = 0
		return []*Packet{{Channel: ChannelStatus, StatusRequest: &StatusRequest{Kind: VersionQuery}}}

	case VersionResponse:
		if e.compatibleVersion {
			return nil
		}
		if r.Version != ProtocolVersion {
			c.failEstablish(h, IncompatibleVersions)
			return nil
		}
		e.compatibleVersion = true
		e.attempts = 0
		if e.listening && e.compatibleVersion {
			local := c.LocalUUID
			return []*Packet{{Channel: ChannelStatus, Connect: &local}}
		}
		return nil
	}
	return nil
}

func (c *Connection) handleConnected(remote uuid.UUID, h Handler) []*Packet {
	if c.State != StateEstablishing {
		return nil
	}
	e := c.establishing
	if !e.listening || !e.compatibleVersion {
		return nil
	}
	c.RemoteUUID = remote
	c.SentPackets = 0
	c.ReceivedPackets = 0
	c.State = StateEstablished
	requestID := e.requestID
	c.establishing = nil
	h.Connected(c.LocalUUID, requestID)
	return nil
}

// handleDuplicateConnect answers a retransmitted Connect from a peer
// that already owns an Established connection here: the peer's original
// Connected reply was presumably lost, so resend it rather than drop it
// silently and let the peer time out its connect-phase attempts.
func (c *Connection) handleDuplicateConnect(remote uuid.UUID) []*Packet {
	if c.State != StateEstablished || remote != c.RemoteUUID {
		return nil
	}
	local := c.LocalUUID
	return []*Packet{{Channel: ChannelStatus, Connected: &local}}
}

func (c *Connection) handleAborted(reason string, h Handler) []*Packet {
	if c.State != StateEstablishing {
		return nil
	}
	_ = reason
	c.failEstablish(h, ConnectionAborted)
	return nil
}

func (c *Connection) failEstablish(h Handler, kind ErrorKind) {
	requestID := c.establishing.requestID
	c.State = StateClosed
	c.establishing = nil
	if requestID != nil {
		h.RequestFailed(*requestID, NewError(kind))
	}
}

func (c *Connection) handleEcho(e *EchoPacket, now time.Time, h Handler) []*Packet {
	if c.State != StateEstablished || e == nil {
		return nil
	}
	if ms, ok := c.Roundtrip.HandleEcho(e.Probe, now); ok {
		h.RoundtripEstimate(c.LocalUUID, ms)
	}
	if e.Endpoint == c.EndpointUUID {
		return nil
	}
	return []*Packet{{Channel: ChannelEcho, Echo: &EchoPacket{Endpoint: e.Endpoint, Probe: e.Probe}}}
}

func (c *Connection) handleData(channel int16, d *DataPacket, h Handler) []*Packet {
	if c.State != StateEstablished {
		return nil
	}
	recv := c.receiver(channel)
	// d.Payload aliases the endpoint's reused receive buffer and the
	// receiver may buffer the packet past this datagram, so it gets its
	// own copy.
	owned := *d
	owned.Payload = append([]byte(nil), d.Payload...)
	acks, delivered := recv.Admit(&owned)

	var out []*Packet
	for _, seq := range acks {
		out = append(out, &Packet{Channel: channel, Ack: &AckPacket{SequenceNumber: seq}})
	}
	for _, payload := range delivered {
		h.IncomingMessage(c.LocalUUID, channel, payload)
	}
	return out
}

// SendMessage frames payload for transmission on channel and, for
// reliable sends, registers every packet with the ack manager so it
// will be retransmitted until acked.
func (c *Connection) SendMessage(channel int16, payload []byte, reliable bool, now time.Time) ([]*Packet, error) {
	if len(payload) > MaxMessageSize {
		return nil, NewError(MessageTooLarge)
	}
	s := c.sender(channel)
	enc := NewFrameEncoder(channel, payload, s.nextSeq, s.lastReliableFrame, reliable)

	var out []*Packet
	for {
		p, ok := enc.Next()
		if !ok {
			break
		}
		c.SentPackets++
		out = append(out, p)
		if reliable {
			c.acks.SubmitOutgoing(channel, p, now)
		}
	}
	if len(out) > 0 {
		last := out[len(out)-1]
		s.nextSeq = last.Data.SequenceNumber + 1
		if reliable {
			s.lastReliableFrame = out[0].Data.SequenceNumber
		}
	}
	return out, nil
}

// Tick200 runs the 200ms retry/re-ack/estimator-tick handlers
// appropriate to the current state.
func (c *Connection) Tick200(now time.Time, h Handler) []*Packet {
	switch c.State {
	case StateEstablishing:
		return c.tickEstablishing(h)
	case StateEstablished:
		return c.tickEstablished(now, h)
	default:
		return nil
	}
}

func (c *Connection) tickEstablishing(h Handler) []*Packet {
	e := c.establishing
	e.attempts++

	statusPhase := !e.listening || !e.compatibleVersion
	if statusPhase {
		if e.attempts > c.statusAttemptsCap() {
			c.failEstablish(h, TimedOut)
			return nil
		}
	} else {
		if e.attempts > c.connectAttemptsCap() {
			c.failEstablish(h, TimedOut)
			return nil
		}
	}
	return []*Packet{c.currentProbe()}
}

func (c *Connection) tickEstablished(now time.Time, h Handler) []*Packet {
	var out []*Packet

	for channel, recv := range c.receivers {
		acks, delivered := recv.Tick()
		for _, seq := range acks {
			out = append(out, &Packet{Channel: channel, Ack: &AckPacket{SequenceNumber: seq}})
		}
		for _, payload := range delivered {
			h.IncomingMessage(c.LocalUUID, channel, payload)
		}
	}

	out = append(out, c.acks.Tick(now)...)

	for _, probe := range c.Roundtrip.Tick(now) {
		out = append(out, &Packet{Channel: ChannelEcho, Echo: &EchoPacket{Endpoint: c.EndpointUUID, Probe: probe}})
	}

	return out
}

// Heartbeat runs the 1000ms heartbeat tick: established connections emit
// a Heartbeat packet and advance their counter.
func (c *Connection) Heartbeat() *Packet {
	if c.State != StateEstablished {
		return nil
	}
	hb := &HeartbeatPacket{Counter: c.HeartbeatCounter, Sent: c.SentPackets, Received: c.ReceivedPackets}
	c.HeartbeatCounter++
	return &Packet{Channel: ChannelHeartbeat, Heartbeat: hb}
}
