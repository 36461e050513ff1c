package fastnet

import (
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/ahicks92/fastnet/pkg/wire"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// StatusRequestKind tags the three StatusRequest variants.
type StatusRequestKind uint8

const (
	FastnetQuery StatusRequestKind = iota
	VersionQuery
	ExtensionQuery
)

// StatusRequest is sent connectionless to probe an endpoint.
type StatusRequest struct {
	Kind StatusRequestKind
	Name string // only meaningful for ExtensionQuery
}

// StatusResponseKind tags the three StatusResponse variants.
type StatusResponseKind uint8

const (
	FastnetResponse StatusResponseKind = iota
	VersionResponse
	ExtensionResponse
)

// StatusResponse answers a StatusRequest.
type StatusResponse struct {
	Kind      StatusResponseKind
	Listening bool   // FastnetResponse
	Version   string // VersionResponse
	Name      string // ExtensionResponse
	Supported bool   // ExtensionResponse
}

// FrameHeader is present only on the first packet of a frame.
type FrameHeader struct {
	LastReliableFrame uint64
	Length            uint32
}

// DataPacket is one chunk of a framed user message.
type DataPacket struct {
	SequenceNumber uint64
	Flags          uint8
	Payload        []byte
	Header         *FrameHeader // non-nil iff FlagFrameStart is set
}

// FrameStart reports whether this chunk opens a frame.
func (d *DataPacket) FrameStart() bool { return d.Flags&FlagFrameStart != 0 }

// FrameEnd reports whether this chunk closes a frame.
func (d *DataPacket) FrameEnd() bool { return d.Flags&FlagFrameEnd != 0 }

// Reliable reports whether this chunk belongs to a reliable frame.
func (d *DataPacket) Reliable() bool { return d.Flags&FlagReliable != 0 }

// NewDataPacket builds a DataPacket, enforcing the invariant that a
// header is present if and only if FlagFrameStart is set. Violating the
// invariant is a programming error and panics at construction time
// rather than producing an invalid packet on the wire.
func NewDataPacket(seq uint64, flags uint8, payload []byte, header *FrameHeader) *DataPacket {
	hasStart := flags&FlagFrameStart != 0
	if hasStart != (header != nil) {
		panic("fastnet: DataPacket header must be present iff FRAME_START is set")
	}
	return &DataPacket{SequenceNumber: seq, Flags: flags, Payload: payload, Header: header}
}

// Packet is the tagged union of everything that can travel on the wire.
// Exactly one of the typed fields is meaningful, selected by Channel and,
// for Channel == ChannelStatus, by which pointer is non-nil.
type Packet struct {
	Channel int16

	StatusRequest  *StatusRequest
	StatusResponse *StatusResponse
	Connect        *uuid.UUID
	Connected      *uuid.UUID
	Aborted        *string

	Heartbeat *HeartbeatPacket
	Echo      *EchoPacket

	Data *DataPacket
	Ack  *AckPacket
}

// HeartbeatPacket is sent periodically once Established.
type HeartbeatPacket struct {
	Counter  uint64
	Sent     uint64
	Received uint64
}

// EchoPacket probes roundtrip time.
type EchoPacket struct {
	Endpoint uuid.UUID
	Probe    uuid.UUID
}

// AckPacket acknowledges one data packet sequence number.
type AckPacket struct {
	SequenceNumber uint64
}

// encodeBody writes channel + tag + variant body into w. It does not
// write the CRC; EncodeFramed does that.
func encodeBody(p *Packet, w *wire.Writer) error {
	if err := w.WriteI16(p.Channel); err != nil {
		return err
	}
	switch p.Channel {
	case ChannelStatus:
		return encodeStatusBody(p, w)
	case ChannelHeartbeat:
		hb := p.Heartbeat
		if err := w.WriteU64(hb.Counter); err != nil {
			return err
		}
		if err := w.WriteU64(hb.Sent); err != nil {
			return err
		}
		return w.WriteU64(hb.Received)
	case ChannelEcho:
		e := p.Echo
		if err := w.WriteUUID(e.Endpoint); err != nil {
			return err
		}
		return w.WriteUUID(e.Probe)
	default:
		if p.Data != nil {
			return encodeDataBody(p.Data, w)
		}
		if p.Ack != nil {
			if err := w.WriteU8(tagAck); err != nil {
				return err
			}
			return w.WriteU64(p.Ack.SequenceNumber)
		}
		return wire.ErrInvalid
	}
}

func encodeStatusBody(p *Packet, w *wire.Writer) error {
	switch {
	case p.StatusRequest != nil:
		if err := w.WriteU8(tagStatusRequest); err != nil {
			return err
		}
		req := p.StatusRequest
		switch req.Kind {
		case FastnetQuery:
			return w.WriteU8(subFastnetQuery)
		case VersionQuery:
			return w.WriteU8(subVersionQuery)
		case ExtensionQuery:
			if err := w.WriteU8(subExtensionQuery); err != nil {
				return err
			}
			return w.WriteString(req.Name)
		default:
			return wire.ErrInvalid
		}
	case p.StatusResponse != nil:
		if err := w.WriteU8(tagStatusResponse); err != nil {
			return err
		}
		resp := p.StatusResponse
		switch resp.Kind {
		case FastnetResponse:
			if err := w.WriteU8(subFastnetResponse); err != nil {
				return err
			}
			return w.WriteBool(resp.Listening)
		case VersionResponse:
			if err := w.WriteU8(subVersionResponse); err != nil {
				return err
			}
			return w.WriteString(resp.Version)
		case ExtensionResponse:
			if err := w.WriteU8(subExtensionResponse); err != nil {
				return err
			}
			if err := w.WriteString(resp.Name); err != nil {
				return err
			}
			return w.WriteBool(resp.Supported)
		default:
			return wire.ErrInvalid
		}
	case p.Connect != nil:
		if err := w.WriteU8(tagConnect); err != nil {
			return err
		}
		return w.WriteUUID(*p.Connect)
	case p.Connected != nil:
		if err := w.WriteU8(tagConnected); err != nil {
			return err
		}
		return w.WriteUUID(*p.Connected)
	case p.Aborted != nil:
		if err := w.WriteU8(tagAborted); err != nil {
			return err
		}
		return w.WriteString(*p.Aborted)
	default:
		return wire.ErrInvalid
	}
}

func encodeDataBody(d *DataPacket, w *wire.Writer) error {
	if err := w.WriteU8(tagData); err != nil {
		return err
	}
	if err := w.WriteU64(d.SequenceNumber); err != nil {
		return err
	}
	if err := w.WriteU8(d.Flags); err != nil {
		return err
	}
	if d.FrameStart() {
		if err := w.WriteU64(d.Header.LastReliableFrame); err != nil {
			return err
		}
		if err := w.WriteU32(d.Header.Length); err != nil {
			return err
		}
	}
	return w.WriteBytes(d.Payload)
}

// EncodeFramed encodes p into buf as [crc32c][channel][body] and returns
// the number of bytes written. buf must be at least MaxPacketSize long;
// it is used purely as scratch, nothing is retained.
func EncodeFramed(p *Packet, buf []byte) (int, error) {
	w := wire.NewWriter(buf[4:])
	if err := encodeBody(p, w); err != nil {
		return 0, err
	}
	n := 4 + w.Written()
	sum := crc32.Checksum(buf[4:n], crcTable)
	buf[0] = byte(sum >> 24)
	buf[1] = byte(sum >> 16)
	buf[2] = byte(sum >> 8)
	buf[3] = byte(sum)
	return n, nil
}

// DecodeFramed validates the CRC-32C prefix and decodes the packet that
// follows. A decoded DataPacket's Payload aliases buf; callers that
// retain it past the datagram's lifetime must copy. Decoded strings are
// copies.
func DecodeFramed(buf []byte) (*Packet, error) {
	if len(buf) < 4 {
		return nil, wire.ErrTooSmall
	}
	want := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	got := crc32.Checksum(buf[4:], crcTable)
	if want != got {
		return nil, ErrChecksumMismatch
	}
	r := wire.NewReader(buf[4:])
	channel, err := r.ReadI16()
	if err != nil {
		return nil, err
	}
	p := &Packet{Channel: channel}
	switch channel {
	case ChannelStatus:
		return decodeStatusBody(p, r)
	case ChannelHeartbeat:
		hb := &HeartbeatPacket{}
		if hb.Counter, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if hb.Sent, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if hb.Received, err = r.ReadU64(); err != nil {
			return nil, err
		}
		p.Heartbeat = hb
		return p, nil
	case ChannelEcho:
		e := &EchoPacket{}
		if e.Endpoint, err = r.ReadUUID(); err != nil {
			return nil, err
		}
		if e.Probe, err = r.ReadUUID(); err != nil {
			return nil, err
		}
		p.Echo = e
		return p, nil
	default:
		return decodeDataOrAck(p, r)
	}
}

func decodeStatusBody(p *Packet, r *wire.Reader) (*Packet, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagStatusRequest:
		sub, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		switch sub {
		case subFastnetQuery:
			p.StatusRequest = &StatusRequest{Kind: FastnetQuery}
		case subVersionQuery:
			p.StatusRequest = &StatusRequest{Kind: VersionQuery}
		case subExtensionQuery:
			name, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			p.StatusRequest = &StatusRequest{Kind: ExtensionQuery, Name: name}
		default:
			return nil, wire.ErrInvalid
		}
		return p, nil
	case tagStatusResponse:
		sub, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		switch sub {
		case subFastnetResponse:
			listening, err := r.ReadBool()
			if err != nil {
				return nil, err
			}
			p.StatusResponse = &StatusResponse{Kind: FastnetResponse, Listening: listening}
		case subVersionResponse:
			v, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			p.StatusResponse = &StatusResponse{Kind: VersionResponse, Version: v}
		case subExtensionResponse:
			name, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			supported, err := r.ReadBool()
			if err != nil {
				return nil, err
			}
			p.StatusResponse = &StatusResponse{Kind: ExtensionResponse, Name: name, Supported: supported}
		default:
			return nil, wire.ErrInvalid
		}
		return p, nil
	case tagConnect:
		u, err := r.ReadUUID()
		if err != nil {
			return nil, err
		}
		p.Connect = &u
		return p, nil
	case tagConnected:
		u, err := r.ReadUUID()
		if err != nil {
			return nil, err
		}
		p.Connected = &u
		return p, nil
	case tagAborted:
		reason, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		p.Aborted = &reason
		return p, nil
	default:
		return nil, wire.ErrInvalid
	}
}

func decodeDataOrAck(p *Packet, r *wire.Reader) (*Packet, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagData:
		seq, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		var header *FrameHeader
		if flags&FlagFrameStart != 0 {
			lrf, err := r.ReadU64()
			if err != nil {
				return nil, err
			}
			length, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			header = &FrameHeader{LastReliableFrame: lrf, Length: length}
		}
		// Payload runs to the end of the datagram (fixes the historical
		// off-by-one that stopped one byte short).
		payload := r.ReadRemaining()
		p.Data = &DataPacket{SequenceNumber: seq, Flags: flags, Payload: payload, Header: header}
		return p, nil
	case tagAck:
		seq, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		p.Ack = &AckPacket{SequenceNumber: seq}
		return p, nil
	default:
		return nil, wire.ErrInvalid
	}
}
