package storage

import (
	"encoding/binary"
	"errors"
)

// KeySerializer converts item keys to and from the bytes stored in item
// records.
type KeySerializer[K any] interface {
	// Write encodes key into dst, which holds at least Size(key) bytes, and
	// returns the number of bytes written.
	Write(dst []byte, key K) int
	// Read decodes one key from the start of src and returns it with the
	// number of bytes consumed.
	Read(src []byte) (K, int, error)
	// Size returns the encoded size of key.
	Size(key K) int
	// FixedSize returns the encoded size shared by every key, if any.
	FixedSize() (int, bool)
}

var errShortKey = errors.New("key truncated")

// EncodeKey serializes key with s.
func EncodeKey[K any](s KeySerializer[K], key K) []byte {
	buf := make([]byte, s.Size(key))
	n := s.Write(buf, key)
	return buf[:n]
}

// KeyLength adapts s to the length probe the page decoder needs.
func KeyLength[K any](s KeySerializer[K]) func([]byte) (int, error) {
	if n, ok := s.FixedSize(); ok {
		return func(b []byte) (int, error) {
			if len(b) < n {
				return 0, errShortKey
			}
			return n, nil
		}
	}
	return func(b []byte) (int, error) {
		_, n, err := s.Read(b)
		return n, err
	}
}

// StringKeys stores strings as a uvarint length followed by the bytes.
type StringKeys struct{}

func (StringKeys) Write(dst []byte, key string) int {
	n := binary.PutUvarint(dst, uint64(len(key)))
	return n + copy(dst[n:], key)
}

func (StringKeys) Read(src []byte) (string, int, error) {
	l, n := binary.Uvarint(src)
	if n <= 0 {
		return "", 0, errShortKey
	}
	end := n + int(l)
	if l > uint64(len(src)) || end > len(src) {
		return "", 0, errShortKey
	}
	return string(src[n:end]), end, nil
}

func (StringKeys) Size(key string) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], uint64(len(key))) + len(key)
}

func (StringKeys) FixedSize() (int, bool) { return 0, false }

// Uint32Keys stores uint32 keys little-endian.
type Uint32Keys struct{}

func (Uint32Keys) Write(dst []byte, key uint32) int {
	binary.LittleEndian.PutUint32(dst, key)
	return 4
}

func (Uint32Keys) Read(src []byte) (uint32, int, error) {
	if len(src) < 4 {
		return 0, 0, errShortKey
	}
	return binary.LittleEndian.Uint32(src), 4, nil
}

func (Uint32Keys) Size(uint32) int        { return 4 }
func (Uint32Keys) FixedSize() (int, bool) { return 4, true }

// Int64Keys stores int64 keys little-endian.
type Int64Keys struct{}

func (Int64Keys) Write(dst []byte, key int64) int {
	binary.LittleEndian.PutUint64(dst, uint64(key))
	return 8
}

func (Int64Keys) Read(src []byte) (int64, int, error) {
	if len(src) < 8 {
		return 0, 0, errShortKey
	}
	return int64(binary.LittleEndian.Uint64(src)), 8, nil
}

func (Int64Keys) Size(int64) int         { return 8 }
func (Int64Keys) FixedSize() (int, bool) { return 8, true }
