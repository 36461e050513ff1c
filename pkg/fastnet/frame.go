package fastnet

// FrameEncoder splits a user payload into a sequence of Data packets,
// one chunk at a time. Call Next until it reports done.
type FrameEncoder struct {
	channel           int16
	payload           []byte
	offset            int
	seq               uint64
	lastReliableFrame uint64
	reliable          bool
	totalLength       uint32
	emittedFirst      bool
}

// NewFrameEncoder prepares to split payload into packets on channel,
// starting at sequence number seq. lastReliableFrame is stamped into the
// frame header so the receiver can order this frame relative to earlier
// reliable ones.
func NewFrameEncoder(channel int16, payload []byte, seq uint64, lastReliableFrame uint64, reliable bool) *FrameEncoder {
	total := len(payload)
	return &FrameEncoder{
		channel:           channel,
		payload:           payload,
		seq:               seq,
		lastReliableFrame: lastReliableFrame,
		reliable:          reliable,
		totalLength:       uint32(frameHeaderSize + total),
	}
}

// Next returns the next Data packet and true, or (nil, false) once the
// whole payload has been chunked.
func (f *FrameEncoder) Next() (*Packet, bool) {
	if f.offset >= len(f.payload) && f.emittedFirst {
		return nil, false
	}

	end := f.offset + MaxChunkPayload
	if end > len(f.payload) {
		end = len(f.payload)
	}
	chunk := f.payload[f.offset:end]

	var flags uint8
	var header *FrameHeader
	if !f.emittedFirst {
		flags |= FlagFrameStart
		header = &FrameHeader{LastReliableFrame: f.lastReliableFrame, Length: f.totalLength}
	}
	isLast := end >= len(f.payload)
	if isLast {
		flags |= FlagFrameEnd
	}
	if f.reliable {
		flags |= FlagReliable
	}

	dp := NewDataPacket(f.seq, flags, chunk, header)

	f.offset = end
	f.seq++
	f.emittedFirst = true

	return &Packet{Channel: f.channel, Data: dp}, true
}

// Collect drains the encoder into a slice, mostly useful for tests.
func (f *FrameEncoder) Collect() []*Packet {
	var out []*Packet
	for {
		p, ok := f.Next()
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}
