package fastnet

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func reliableFrame(channel int16, payload []byte, seq, lastReliableFrame uint64) []*Packet {
	return NewFrameEncoder(channel, payload, seq, lastReliableFrame, true).Collect()
}

// TestReliableReorderingScenario reproduces spec §8's concrete scenario:
// a 1200-byte reliable message framed from sn=3 with lastReliableFrame=1
// arrives as [5, 3, 4] and must ack/deliver exactly as narrated there.
func TestReliableReorderingScenario(t *testing.T) {
	payload := make([]byte, 1200)
	rand.New(rand.NewSource(7)).Read(payload)
	packets := reliableFrame(7, payload, 3, 1)
	require.Len(t, packets, 3, "1200 bytes at 472-byte chunks must split into 3 packets")

	recv := NewChannelReceiver(7, DefaultChannelMemoryLimit)
	// lastReliableFrame=1 means the receiver has already delivered the
	// reliable frame that started at sn=1 (and ended at sn=2), so sn=3 is
	// the next sequence number it expects.
	recv.lastReliableFrame = 1
	recv.ignoreSequence = 3

	// Ingest sn=5 alone: no delivery, no ack (it's ahead of the gap at 3/4).
	acks, delivered := recv.Admit(packets[2].Data)
	require.Empty(t, acks)
	require.Empty(t, delivered)

	// Ingest sn=3: acks 3, delivery still blocked on 4.
	acks, delivered = recv.Admit(packets[0].Data)
	require.Equal(t, []uint64{3}, acks)
	require.Empty(t, delivered)

	// Ingest sn=4: acks 4 and 5, delivers the assembled 1200 bytes,
	// lastReliableFrame advances to 3 (the frame's start sequence).
	acks, delivered = recv.Admit(packets[1].Data)
	require.ElementsMatch(t, []uint64{4, 5}, acks)
	require.Len(t, delivered, 1)
	require.True(t, bytes.Equal(delivered[0], payload))
	require.EqualValues(t, 3, recv.lastReliableFrame)
}

func TestChannelReceiverDeliversExactlyOnceUnderAnyPermutation(t *testing.T) {
	payload := make([]byte, MaxChunkPayload*2+10)
	rand.New(rand.NewSource(3)).Read(payload)
	packets := reliableFrame(1, payload, 0, 0)
	require.Len(t, packets, 3)

	perms := [][]int{
		{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {0, 2, 1},
	}
	for _, order := range perms {
		recv := NewChannelReceiver(1, DefaultChannelMemoryLimit)
		var totalDelivered [][]byte
		for _, idx := range order {
			_, delivered := recv.Admit(packets[idx].Data)
			totalDelivered = append(totalDelivered, delivered...)
		}
		require.Len(t, totalDelivered, 1, "order %v must deliver exactly once", order)
		require.True(t, bytes.Equal(totalDelivered[0], payload))
	}
}

func TestChannelReceiverDuplicateDeliveredPacketReAcksButNoRedelivery(t *testing.T) {
	payload := []byte("hi")
	packets := reliableFrame(1, payload, 0, 0)
	recv := NewChannelReceiver(1, DefaultChannelMemoryLimit)

	_, delivered := recv.Admit(packets[0].Data)
	require.Len(t, delivered, 1)

	acks, delivered := recv.Admit(packets[0].Data)
	require.Equal(t, []uint64{0}, acks, "duplicate reliable packet must still be acked")
	require.Empty(t, delivered, "duplicate must not be delivered again")
}

func TestChannelReceiverPrefixYieldsNoDelivery(t *testing.T) {
	payload := make([]byte, MaxChunkPayload*2+10)
	rand.New(rand.NewSource(2)).Read(payload)
	packets := reliableFrame(3, payload, 0, 0)
	require.Len(t, packets, 3)

	recv := NewChannelReceiver(3, DefaultChannelMemoryLimit)
	for _, p := range packets[:2] {
		_, delivered := recv.Admit(p.Data)
		require.Empty(t, delivered)
	}
}

func TestChannelReceiverUnreliableDroppedBelowIgnoreSequence(t *testing.T) {
	recv := NewChannelReceiver(1, DefaultChannelMemoryLimit)
	dp := NewDataPacket(0, FlagFrameStart|FlagFrameEnd, []byte("x"), &FrameHeader{Length: uint32(frameHeaderSize + 1)})
	recv.Admit(dp)
	recv.ignoreSequence = 5

	acks, delivered := recv.Admit(dp)
	require.Empty(t, acks, "unreliable packet below ignoreSequence is dropped silently, no ack")
	require.Empty(t, delivered)
}

func TestChannelReceiverMemoryLimitNeverExceeded(t *testing.T) {
	const limit = 100
	recv := NewChannelReceiver(1, limit)

	for i := uint64(0); i < 50; i++ {
		dp := NewDataPacket(i, FlagFrameStart|FlagFrameEnd, make([]byte, 10), &FrameHeader{Length: uint32(frameHeaderSize + 10)})
		recv.Admit(dp)
		require.LessOrEqual(t, recv.ContainedPayload(), limit)
	}
}

func TestChannelReceiverReliableNeverEvictsBelowDeliveredBarrier(t *testing.T) {
	const limit = 50
	recv := NewChannelReceiver(1, limit)

	// Deliver one small reliable frame so lastReliableFrame advances.
	first := NewDataPacket(0, FlagFrameStart|FlagFrameEnd|FlagReliable, make([]byte, 10), &FrameHeader{LastReliableFrame: 0, Length: uint32(frameHeaderSize + 10)})
	_, delivered := recv.Admit(first)
	require.Len(t, delivered, 1)
	require.EqualValues(t, 0, recv.lastReliableFrame)

	// Flood with reliable frames larger than the remaining budget;
	// none of them can ever push lastReliableFrame backwards, and the
	// already-delivered frame (gone from acked/unacked by now) can't be
	// "evicted" because it no longer occupies any buffer slot.
	for i := uint64(1); i < 20; i++ {
		dp := NewDataPacket(i, FlagFrameStart|FlagFrameEnd|FlagReliable, make([]byte, 10), &FrameHeader{LastReliableFrame: 99, Length: uint32(frameHeaderSize + 10)})
		recv.Admit(dp)
	}
	require.EqualValues(t, 0, recv.lastReliableFrame, "a barrier mismatch must never be silently advanced by eviction pressure")
}
