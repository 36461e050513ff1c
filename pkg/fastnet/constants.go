package fastnet

import "time"

// ProtocolVersion is exchanged during the handshake; a mismatch aborts it.
const ProtocolVersion = "1.0"

// MaxPacketSize is the hard cap on a single UDP datagram, CRC and channel
// included.
const MaxPacketSize = 500

// dataPacketOverhead is crc32(4) + channel(2) + tag(1) + sequence(8) + flags(1).
const dataPacketOverhead = 16

// frameHeaderSize is lastReliableFrame(8) + length(4).
const frameHeaderSize = 12

// MaxChunkPayload is the largest payload a single data packet chunk may
// carry. It leaves room for a FrameHeader on every chunk, not just the
// first, so one constant describes every packet the frame encoder emits.
const MaxChunkPayload = MaxPacketSize - dataPacketOverhead - frameHeaderSize

// DefaultChannelMemoryLimit bounds how many payload bytes a single
// channel receiver buffers before reliable-evicts-unreliable eviction
// kicks in. Configurable per endpoint.
const DefaultChannelMemoryLimit = 1 << 20 // 1 MiB

// DefaultTimeout bounds how long the connecting phase may run before
// TimedOut is reported.
const DefaultTimeout = 10000 * time.Millisecond

const (
	// TickInterval drives retries, re-acks and the ack manager.
	TickInterval = 200 * time.Millisecond
	// HeartbeatInterval drives the established-state heartbeat.
	HeartbeatInterval = 1000 * time.Millisecond

	// InitialRetransmitDelay is the first retransmit delay for a newly
	// submitted reliable packet.
	InitialRetransmitDelay = 100 * time.Millisecond
	// RetransmitMultiplier is applied to the retry delay after each
	// retransmit attempt.
	RetransmitMultiplier = 1.1

	// StatusAttempts bounds the FastnetQuery/VersionQuery phases.
	StatusAttempts = 10
	// ConnectAttempts bounds the Connect phase.
	ConnectAttempts = 25

	// RTTRequiredSamples is how many echo samples are averaged into one
	// roundtrip estimate.
	RTTRequiredSamples = 5
	// RTTOutstandingCap is the maximum number of in-flight echo probes.
	RTTOutstandingCap = 5
	// RTTProbeTTL drops an echo probe that never got a reply.
	RTTProbeTTL = 5 * time.Second
)

// Channel numbers are per-connection; these three are reserved by the
// protocol and never carry Data/Ack bodies.
const (
	ChannelStatus    int16 = -1
	ChannelHeartbeat int16 = -2
	ChannelEcho      int16 = -3
)

// DataPacket flag bits.
const (
	FlagFrameStart uint8 = 1 << 0
	FlagFrameEnd   uint8 = 1 << 1
	FlagReliable   uint8 = 1 << 2
)

// Status/Connect tag bytes on channel -1.
const (
	tagStatusRequest  uint8 = 0
	tagStatusResponse uint8 = 1
	tagConnect        uint8 = 2
	tagConnected      uint8 = 3
	tagAborted        uint8 = 4
)

// StatusRequest sub-tags.
const (
	subFastnetQuery   uint8 = 0
	subVersionQuery   uint8 = 1
	subExtensionQuery uint8 = 2
)

// StatusResponse sub-tags.
const (
	subFastnetResponse   uint8 = 0
	subVersionResponse   uint8 = 1
	subExtensionResponse uint8 = 2
)

// Data/Ack tag bytes on user channels.
const (
	tagData uint8 = 0
	tagAck  uint8 = 1
)
