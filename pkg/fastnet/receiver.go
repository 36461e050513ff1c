package fastnet

import "sort"

// ChannelReceiver is the inbound half of one user channel (C5): it
// deduplicates incoming data packets, enforces a memory limit with a
// reliable-evicts-unreliable eviction policy, reassembles frames in
// order gated by the last-reliable-frame barrier, and decides which
// sequence numbers need an outgoing Ack.
type ChannelReceiver struct {
	channel int16
	limit   int

	// ignoreSequence: every sequence number below this is either
	// already acked/delivered or known obsolete.
	ignoreSequence uint64
	// lastReliableFrame: sequence number of the start packet of the
	// most recently delivered reliable frame.
	lastReliableFrame uint64

	containedPayload int

	acked   []*DataPacket // sorted ascending by sequence number
	unacked []*DataPacket // sorted ascending by sequence number; reliable only
}

// NewChannelReceiver builds a receiver for channel with the given
// per-channel memory limit.
func NewChannelReceiver(channel int16, limit int) *ChannelReceiver {
	return &ChannelReceiver{channel: channel, limit: limit}
}

func findSeq(list []*DataPacket, seq uint64) int {
	return sort.Search(len(list), func(i int) bool { return list[i].SequenceNumber >= seq })
}

func containsSeq(list []*DataPacket, seq uint64) bool {
	i := findSeq(list, seq)
	return i < len(list) && list[i].SequenceNumber == seq
}

func insertSorted(list []*DataPacket, dp *DataPacket) []*DataPacket {
	i := findSeq(list, dp.SequenceNumber)
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = dp
	return list
}

// Admit feeds one freshly decoded data packet through the admission
// state machine (spec §4.5 steps 1-5), then runs ack-promotion and frame
// delivery. It returns the sequence numbers that need an outgoing Ack
// and any complete frame payloads ready for Handler.IncomingMessage.
func (c *ChannelReceiver) Admit(dp *DataPacket) (acks []uint64, delivered [][]byte) {
	reliable := dp.Reliable()
	seq := dp.SequenceNumber
	size := len(dp.Payload)

	switch {
	case seq < c.ignoreSequence:
		if reliable {
			acks = append(acks, seq)
		}
		return
	case containsSeq(c.acked, seq):
		if reliable {
			acks = append(acks, seq)
		}
		return
	case containsSeq(c.unacked, seq):
		return
	}

	if c.containedPayload+size > c.limit {
		if !reliable {
			return
		}
		if !c.ensureRoom(size) {
			return
		}
	}

	if reliable {
		c.unacked = insertSorted(c.unacked, dp)
	} else {
		c.acked = insertSorted(c.acked, dp)
	}
	c.containedPayload += size

	acks = append(acks, c.promote()...)
	delivered = c.deliverReady()
	return
}

// Tick re-runs ack-promotion and frame delivery without admitting a new
// packet. Called on every 200 ms tick per spec §4.7.
func (c *ChannelReceiver) Tick() (acks []uint64, delivered [][]byte) {
	acks = c.promote()
	delivered = c.deliverReady()
	return
}

// promote walks unacked in sequence order, promoting every packet
// contiguous with ignoreSequence into acked, emitting an Ack for each.
// It stops at the first gap.
func (c *ChannelReceiver) promote() []uint64 {
	var acks []uint64
	for len(c.unacked) > 0 {
		p := c.unacked[0]
		if p.SequenceNumber != c.ignoreSequence {
			break
		}
		c.unacked = c.unacked[1:]
		c.acked = insertSorted(c.acked, p)
		c.ignoreSequence = p.SequenceNumber + 1
		acks = append(acks, p.SequenceNumber)
	}
	return acks
}

// deliverReady repeatedly attempts to assemble and deliver one complete
// frame out of acked, per spec §4.5's frame-reassembly walk.
func (c *ChannelReceiver) deliverReady() [][]byte {
	var out [][]byte
	for {
		payload, ok := c.deliverOne()
		if !ok {
			return out
		}
		out = append(out, payload)
	}
}

func (c *ChannelReceiver) deliverOne() ([]byte, bool) {
	if len(c.acked) == 0 || !c.acked[0].FrameStart() {
		return nil, false
	}
	start := c.acked[0]
	if start.Header.LastReliableFrame != c.lastReliableFrame {
		return nil, false
	}

	end := -1
	expected := start.SequenceNumber
	for i, p := range c.acked {
		if p.SequenceNumber != expected {
			return nil, false
		}
		if i > 0 && p.FrameStart() {
			return nil, false
		}
		if p.FrameEnd() {
			end = i
			break
		}
		expected++
	}
	if end < 0 {
		return nil, false
	}

	frame := c.acked[:end+1]
	total := 0
	for _, p := range frame {
		total += len(p.Payload)
	}
	payload := make([]byte, 0, total)
	for _, p := range frame {
		payload = append(payload, p.Payload...)
	}

	if start.Reliable() {
		c.lastReliableFrame = start.SequenceNumber
	}
	for _, p := range frame {
		c.containedPayload -= len(p.Payload)
	}
	c.acked = append([]*DataPacket(nil), c.acked[end+1:]...)

	return payload, true
}

// ensureRoom tries to free at least size bytes of headroom. The guard
// is "if size fits in what's already free, nothing to do" — the
// inverse of the original source's inverted comparison.
func (c *ChannelReceiver) ensureRoom(size int) bool {
	remaining := c.limit - c.containedPayload
	if size <= remaining {
		return true
	}
	c.evict(size - remaining)
	remaining = c.limit - c.containedPayload
	return size <= remaining
}

// evict implements the reliable-evicts-unreliable policy: first drop
// unreliable packets from the front of acked, then — if still short —
// drop reliable packets from the tail (highest sequence number) of
// unacked. Both passes use explicit filters rather than indexing into a
// list while mutating it.
func (c *ChannelReceiver) evict(needed int) {
	freed := 0
	kept := make([]*DataPacket, 0, len(c.acked))
	for _, p := range c.acked {
		if freed < needed && !p.Reliable() {
			freed += len(p.Payload)
			continue
		}
		kept = append(kept, p)
	}
	c.acked = kept

	for freed < needed && len(c.unacked) > 0 {
		last := c.unacked[len(c.unacked)-1]
		c.unacked = c.unacked[:len(c.unacked)-1]
		freed += len(last.Payload)
	}

	c.containedPayload -= freed
}

// ContainedPayload reports the current memory usage, for tests and
// diagnostics.
func (c *ChannelReceiver) ContainedPayload() int { return c.containedPayload }
