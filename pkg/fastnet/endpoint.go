package fastnet

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Tracer is an optional diagnostic sink an Endpoint can be given. The
// core never depends on any particular logging library; pkg/logger
// satisfies this interface directly.
type Tracer interface {
	Tracef(format string, args ...interface{})
}

// pollInterval bounds how long a single ReadFromUDP call blocks before
// the loop wakes up to drain commands and run due ticks. It must be
// shorter than TickInterval so retries and heartbeats stay on schedule
// even under a quiet socket.
const pollInterval = 50 * time.Millisecond

// Endpoint owns one UDP socket and every connection multiplexed over it
// (C8). It runs single-threaded cooperative: Run must be called from
// exactly one goroutine, and every other method is safe to call from
// any goroutine because it only ever posts a closure onto the command
// channel for the Run loop to execute inline.
type Endpoint struct {
	uuid       uuid.UUID
	handler    Handler
	conn       *net.UDPConn
	tracer     Tracer
	extensions map[string]bool

	listening          bool
	channelMemoryLimit int
	timeoutMs          uint64

	connections map[string]*Connection

	inBuf  []byte
	outBuf []byte

	commands chan func(*Endpoint)
	done     chan struct{}
	running  bool
}

// Option configures optional Endpoint fields at construction.
type Option func(*Endpoint)

// WithTracer attaches an optional diagnostic sink.
func WithTracer(t Tracer) Option { return func(e *Endpoint) { e.tracer = t } }

// WithExtensions sets the name→supported table answered by
// StatusRequest{ExtensionQuery}.
func WithExtensions(extensions map[string]bool) Option {
	return func(e *Endpoint) { e.extensions = extensions }
}

// WithListening controls whether this endpoint answers FastnetQuery
// with listening=true. Defaults to true: an endpoint that can't accept
// connections has little reason to bind a socket.
func WithListening(listening bool) Option {
	return func(e *Endpoint) { e.listening = listening }
}

// WithChannelMemoryLimit overrides DefaultChannelMemoryLimit for every
// channel receiver this endpoint's connections create.
func WithChannelMemoryLimit(limit int) Option {
	return func(e *Endpoint) { e.channelMemoryLimit = limit }
}

// NewEndpoint binds localAddr and returns a ready-to-run Endpoint. Call
// Run to start servicing it.
func NewEndpoint(localAddr string, handler Handler, opts ...Option) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, WrapIoError(err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, WrapIoError(err)
	}

	e := &Endpoint{
		uuid:               uuid.New(),
		handler:            handler,
		conn:               conn,
		listening:          true,
		extensions:         make(map[string]bool),
		channelMemoryLimit: DefaultChannelMemoryLimit,
		timeoutMs:          uint64(DefaultTimeout / time.Millisecond),
		connections:        make(map[string]*Connection),
		inBuf:              make([]byte, MaxPacketSize*2),
		outBuf:             make([]byte, MaxPacketSize*2),
		commands:           make(chan func(*Endpoint), 64),
		done:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// LocalAddr returns the bound UDP address.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// UUID returns this endpoint's identity, stamped into every Echo probe
// it originates.
func (e *Endpoint) UUID() uuid.UUID { return e.uuid }

// Connect posts a command to dial remoteAddr and begin the handshake.
// The resulting Connected/RequestFailed callback carries requestID.
func (e *Endpoint) Connect(remoteAddr string, requestID uint64) {
	e.post(func(e *Endpoint) {
		addr, err := net.ResolveUDPAddr("udp", remoteAddr)
		if err != nil {
			e.handler.RequestFailed(requestID, NewError(HostNotFound))
			return
		}
		key := addr.String()
		if _, exists := e.connections[key]; exists {
			return
		}
		conn := NewConnection(key, e.uuid, e.channelMemoryLimit, e.timeoutMs)
		rid := requestID
		out := conn.Establish(&rid)
		e.connections[key] = conn
		e.send(out, addr)
	})
}

// Disconnect posts a command to close an established connection.
func (e *Endpoint) Disconnect(id uuid.UUID, requestID uint64) {
	e.post(func(e *Endpoint) {
		addr, conn := e.findByLocalID(id)
		if conn == nil {
			e.handler.RequestFailed(requestID, NewError(PeerNotFound))
			return
		}
		rid := requestID
		out := conn.Disconnect(&rid, e.handler)
		e.send(out, addr)
		delete(e.connections, addr.String())
	})
}

// ConfigureTimeout posts a command updating the connecting-phase timeout.
func (e *Endpoint) ConfigureTimeout(ms uint64) {
	e.post(func(e *Endpoint) { e.timeoutMs = ms })
}

// SendMessage posts a command to frame and (for reliable sends) queue
// payload for retransmit on id's channel.
func (e *Endpoint) SendMessage(id uuid.UUID, channel int16, payload []byte, reliable bool) {
	e.post(func(e *Endpoint) {
		addr, conn := e.findByLocalID(id)
		if conn == nil {
			return
		}
		out, err := conn.SendMessage(channel, payload, reliable, time.Now())
		if err != nil {
			return
		}
		for _, p := range out {
			e.send([]*Packet{p}, addr)
		}
	})
}

func (e *Endpoint) findByLocalID(id uuid.UUID) (*net.UDPAddr, *Connection) {
	for key, c := range e.connections {
		if c.LocalUUID == id {
			addr, err := net.ResolveUDPAddr("udp", key)
			if err != nil {
				continue
			}
			return addr, c
		}
	}
	return nil, nil
}

func (e *Endpoint) post(fn func(*Endpoint)) {
	select {
	case e.commands <- fn:
	default:
		if e.tracer != nil {
			e.tracer.Tracef("command channel full, dropping command")
		}
	}
}

// Run drives the single-threaded I/O loop until Close is called. It
// must be called from exactly one goroutine.
func (e *Endpoint) Run() error {
	e.running = true
	defer close(e.done)

	last200 := time.Now()
	last1000 := time.Now()

	for e.running {
		e.drainCommands()

		if err := e.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return WrapIoError(err)
		}
		n, addr, err := e.conn.ReadFromUDP(e.inBuf)
		now := time.Now()

		switch {
		case err == nil:
			e.handleDatagram(e.inBuf[:n], addr, now)
		case isTimeout(err):
			// fallthrough to tick handling below
		case !e.running:
			return nil
		default:
			if e.tracer != nil {
				e.tracer.Tracef("udp read error: %v", err)
			}
		}

		if now.Sub(last200) >= TickInterval {
			e.tick200(now)
			last200 = now
		}
		if now.Sub(last1000) >= HeartbeatInterval {
			e.tick1000(now)
			last1000 = now
		}
	}
	return nil
}

// Close stops the Run loop and releases the socket.
func (e *Endpoint) Close() error {
	e.running = false
	err := e.conn.Close()
	<-e.done
	return err
}

func (e *Endpoint) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			cmd(e)
		default:
			return
		}
	}
}

func (e *Endpoint) tick200(now time.Time) {
	for key, conn := range e.connections {
		addr, err := net.ResolveUDPAddr("udp", key)
		if err != nil {
			continue
		}
		out := conn.Tick200(now, e.handler)
		e.send(out, addr)
		if conn.State == StateClosed {
			delete(e.connections, key)
		}
	}
}

func (e *Endpoint) tick1000(now time.Time) {
	for key, conn := range e.connections {
		hb := conn.Heartbeat()
		if hb == nil {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", key)
		if err != nil {
			continue
		}
		e.send([]*Packet{hb}, addr)
	}
}

func (e *Endpoint) handleDatagram(data []byte, addr *net.UDPAddr, now time.Time) {
	p, err := DecodeFramed(data)
	if err != nil {
		// Internal codec errors are never surfaced; drop silently.
		if e.tracer != nil {
			e.tracer.Tracef("dropping malformed datagram from %s: %v", addr, err)
		}
		return
	}

	key := addr.String()
	if conn, ok := e.connections[key]; ok {
		out := conn.HandlePacket(p, now, e.handler)
		e.send(out, addr)
		if conn.State == StateClosed {
			delete(e.connections, key)
		}
		return
	}

	e.handleConnectionless(p, addr)
}

func (e *Endpoint) handleConnectionless(p *Packet, addr *net.UDPAddr) {
	switch {
	case p.StatusRequest != nil:
		e.send([]*Packet{e.statusResponseFor(p.StatusRequest)}, addr)

	case p.Connect != nil:
		key := addr.String()
		conn := NewConnection(key, e.uuid, e.channelMemoryLimit, e.timeoutMs)
		conn.RemoteUUID = *p.Connect
		conn.State = StateEstablished
		e.connections[key] = conn
		local := conn.LocalUUID
		e.send([]*Packet{{Channel: ChannelStatus, Connected: &local}}, addr)
		e.handler.Connected(local, nil)

	default:
		// Any other unrouted, connectionless packet is dropped.
	}
}

func (e *Endpoint) statusResponseFor(req *StatusRequest) *Packet {
	switch req.Kind {
	case FastnetQuery:
		return &Packet{Channel: ChannelStatus, StatusResponse: &StatusResponse{Kind: FastnetResponse, Listening: e.listening}}
	case VersionQuery:
		return &Packet{Channel: ChannelStatus, StatusResponse: &StatusResponse{Kind: VersionResponse, Version: ProtocolVersion}}
	case ExtensionQuery:
		return &Packet{Channel: ChannelStatus, StatusResponse: &StatusResponse{
			Kind:      ExtensionResponse,
			Name:      req.Name,
			Supported: e.extensions[req.Name],
		}}
	default:
		return &Packet{Channel: ChannelStatus, StatusResponse: &StatusResponse{Kind: FastnetResponse, Listening: e.listening}}
	}
}

// send encodes and transmits each packet in order, reusing the
// endpoint's single outgoing buffer.
func (e *Endpoint) send(packets []*Packet, addr *net.UDPAddr) {
	for _, p := range packets {
		n, err := EncodeFramed(p, e.outBuf)
		if err != nil {
			if e.tracer != nil {
				e.tracer.Tracef("failed to encode outgoing packet: %v", err)
			}
			continue
		}
		if _, err := e.conn.WriteToUDP(e.outBuf[:n], addr); err != nil {
			if e.tracer != nil {
				e.tracer.Tracef("udp write error to %s: %v", addr, err)
			}
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
