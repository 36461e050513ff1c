package fastnet

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFrameEncoderSinglePacket(t *testing.T) {
	payload := []byte("hello world")
	packets := NewFrameEncoder(5, payload, 10, 0, true).Collect()

	if len(packets) != 1 {
		t.Fatalf("len(packets) = %d, want 1", len(packets))
	}
	dp := packets[0].Data
	if !dp.FrameStart() || !dp.FrameEnd() {
		t.Errorf("single-packet frame must carry both FRAME_START and FRAME_END, got flags=%08b", dp.Flags)
	}
	if dp.SequenceNumber != 10 {
		t.Errorf("SequenceNumber = %d, want 10", dp.SequenceNumber)
	}
	if dp.Header == nil || dp.Header.Length != uint32(frameHeaderSize+len(payload)) {
		t.Errorf("Header = %+v, want Length=%d", dp.Header, frameHeaderSize+len(payload))
	}
}

func TestFrameEncoderMultiPacketSequenceAndFlags(t *testing.T) {
	payload := make([]byte, MaxChunkPayload*2+50)
	rand.New(rand.NewSource(1)).Read(payload)

	packets := NewFrameEncoder(7, payload, 3, 1, true).Collect()
	if len(packets) != 3 {
		t.Fatalf("len(packets) = %d, want 3", len(packets))
	}

	var reassembled []byte
	for i, p := range packets {
		dp := p.Data
		wantSeq := uint64(3 + i)
		if dp.SequenceNumber != wantSeq {
			t.Errorf("packet %d SequenceNumber = %d, want %d", i, dp.SequenceNumber, wantSeq)
		}
		if i == 0 {
			if !dp.FrameStart() {
				t.Error("first packet must have FRAME_START")
			}
			if dp.Header.LastReliableFrame != 1 {
				t.Errorf("Header.LastReliableFrame = %d, want 1", dp.Header.LastReliableFrame)
			}
		} else if dp.FrameStart() {
			t.Errorf("packet %d unexpectedly has FRAME_START", i)
		}
		if i == len(packets)-1 {
			if !dp.FrameEnd() {
				t.Error("last packet must have FRAME_END")
			}
		} else if dp.FrameEnd() {
			t.Errorf("packet %d unexpectedly has FRAME_END", i)
		}
		if !dp.Reliable() {
			t.Errorf("packet %d lost the shared reliable flag", i)
		}
		reassembled = append(reassembled, dp.Payload...)
	}

	if !bytes.Equal(reassembled, payload) {
		t.Error("concatenated chunk payloads do not equal the original payload")
	}
}

func TestFrameEncoderEveryChunkFitsPacketSize(t *testing.T) {
	payload := make([]byte, MaxChunkPayload*3+1)
	for _, p := range NewFrameEncoder(0, payload, 0, 0, false).Collect() {
		buf := make([]byte, MaxPacketSize)
		n, err := EncodeFramed(p, buf)
		if err != nil {
			t.Fatalf("EncodeFramed: %v", err)
		}
		if n > MaxPacketSize {
			t.Errorf("encoded packet is %d bytes, exceeds MaxPacketSize %d", n, MaxPacketSize)
		}
	}
}

func TestFrameEncoderEmptyPayloadStillProducesOneFrame(t *testing.T) {
	packets := NewFrameEncoder(0, nil, 0, 0, false).Collect()
	if len(packets) != 1 {
		t.Fatalf("len(packets) = %d, want 1 for empty payload", len(packets))
	}
	dp := packets[0].Data
	if !dp.FrameStart() || !dp.FrameEnd() {
		t.Error("empty payload frame must still be a single start+end packet")
	}
}
