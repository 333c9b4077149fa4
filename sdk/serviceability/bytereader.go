package serviceability

import (
	"encoding/binary"
	"math"

	"github.com/gagliardetto/solana-go"
)

// ByteReader walks borsh-encoded account data, returning zero values on
// short reads so partially-upgraded accounts deserialize best-effort.
type ByteReader struct {
	data   []byte
	offset int
}

func NewByteReader(data []byte) *ByteReader {
	return &ByteReader{data: data}
}

func (r *ByteReader) Remaining() int {
	return len(r.data) - r.offset
}

func (r *ByteReader) take(n int) []byte {
	if r.Remaining() < n {
		r.offset = len(r.data)
		return nil
	}
	out := r.data[r.offset : r.offset+n]
	r.offset += n
	return out
}

func (r *ByteReader) ReadU8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *ByteReader) ReadU16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *ByteReader) ReadU32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *ByteReader) ReadU64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *ByteReader) ReadF64() float64 {
	return math.Float64frombits(r.ReadU64())
}

func (r *ByteReader) ReadPubkey() solana.PublicKey {
	var out solana.PublicKey
	b := r.take(32)
	if b != nil {
		copy(out[:], b)
	}
	return out
}

func (r *ByteReader) ReadBytes32() [32]uint8 {
	var out [32]uint8
	b := r.take(32)
	if b != nil {
		copy(out[:], b)
	}
	return out
}

func (r *ByteReader) ReadIPv4() [4]uint8 {
	var out [4]uint8
	b := r.take(4)
	if b != nil {
		copy(out[:], b)
	}
	return out
}

// ReadString reads a borsh string: u32 length prefix plus UTF-8 bytes.
func (r *ByteReader) ReadString() string {
	n := int(r.ReadU32())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}
