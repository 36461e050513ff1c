package wire

import (
	"testing"

	"github.com/google/uuid"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)

	if err := w.WriteU8(0x42); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	if err := w.WriteI16(-100); err != nil {
		t.Fatalf("WriteI16: %v", err)
	}
	if err := w.WriteU32(567890); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := w.WriteU64(123456789012); err != nil {
		t.Fatalf("WriteU64: %v", err)
	}
	if err := w.WriteBool(true); err != nil {
		t.Fatalf("WriteBool: %v", err)
	}
	if err := w.WriteString("Hello World"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	id := uuid.New()
	if err := w.WriteUUID(id); err != nil {
		t.Fatalf("WriteUUID: %v", err)
	}

	r := NewReader(w.Bytes())

	if v, err := r.ReadU8(); err != nil || v != 0x42 {
		t.Errorf("ReadU8 = %v, %v; want 0x42, nil", v, err)
	}
	if v, err := r.ReadI16(); err != nil || v != -100 {
		t.Errorf("ReadI16 = %v, %v; want -100, nil", v, err)
	}
	if v, err := r.ReadU32(); err != nil || v != 567890 {
		t.Errorf("ReadU32 = %v, %v; want 567890, nil", v, err)
	}
	if v, err := r.ReadU64(); err != nil || v != 123456789012 {
		t.Errorf("ReadU64 = %v, %v; want 123456789012, nil", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Errorf("ReadBool = %v, %v; want true, nil", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "Hello World" {
		t.Errorf("ReadString = %q, %v; want \"Hello World\", nil", v, err)
	}
	if v, err := r.ReadUUID(); err != nil || v != id {
		t.Errorf("ReadUUID = %v, %v; want %v, nil", v, err, id)
	}
}

func TestReadUnderflowIsTooSmall(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.ReadU32(); err != ErrTooSmall {
		t.Errorf("ReadU32 on short buffer = %v, want ErrTooSmall", err)
	}
}

func TestWriteOverflowIsTooLarge(t *testing.T) {
	w := NewWriter(make([]byte, 2))
	if err := w.WriteU32(1); err != ErrTooLarge {
		t.Errorf("WriteU32 into 2-byte buffer = %v, want ErrTooLarge", err)
	}
}

func TestWriteStringWithInteriorNulIsInvalid(t *testing.T) {
	w := NewWriter(make([]byte, 16))
	if err := w.WriteString("a\x00b"); err != ErrInvalid {
		t.Errorf("WriteString with interior NUL = %v, want ErrInvalid", err)
	}
}

func TestReadBoolRejectsGarbageByte(t *testing.T) {
	r := NewReader([]byte{7})
	if _, err := r.ReadBool(); err != ErrInvalid {
		t.Errorf("ReadBool(7) = %v, want ErrInvalid", err)
	}
}

func TestReadStringWithoutTerminatorIsInvalid(t *testing.T) {
	r := NewReader([]byte{'a', 'b', 'c'})
	if _, err := r.ReadString(); err != ErrInvalid {
		t.Errorf("ReadString without terminator = %v, want ErrInvalid", err)
	}
}

func TestReadRemainingConsumesEntireTail(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	if _, err := r.ReadU16(); err != nil {
		t.Fatalf("ReadU16: %v", err)
	}
	rest := r.ReadRemaining()
	if len(rest) != 3 || rest[0] != 3 || rest[2] != 5 {
		t.Errorf("ReadRemaining = %v, want [3 4 5]", rest)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining after ReadRemaining = %d, want 0", r.Remaining())
	}
}

func TestWriterNeverGrowsBuffer(t *testing.T) {
	buf := make([]byte, 4)
	w := NewWriter(buf)
	if err := w.WriteBytes([]byte{1, 2, 3, 4, 5}); err != ErrTooLarge {
		t.Errorf("WriteBytes overflowing dst = %v, want ErrTooLarge", err)
	}
	if w.Written() != 0 {
		t.Errorf("Written after failed write = %d, want 0 (no partial write)", w.Written())
	}
}
