package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// RecordKind represents the type of log record
type RecordKind byte

const (
	// KindPreImage holds bytes of the data file as they were before a write
	KindPreImage RecordKind = 1

	// KindEnd marks the end of a fully written log
	KindEnd RecordKind = 0xFF
)

// State is the commit state stored in the log header
type State byte

const (
	// StateLogging means pre-images are being written; the data file is untouched
	StateLogging State = 0

	// StateLogged means every pre-image is durable; data writes may be in progress
	StateLogged State = 1

	// StateCommitted means the data writes completed
	StateCommitted State = 2
)

func (s State) String() string {
	switch s {
	case StateLogging:
		return "logging"
	case StateLogged:
		return "logged"
	case StateCommitted:
		return "committed"
	default:
		return fmt.Sprintf("State(%d)", byte(s))
	}
}

const (
	// HeaderSize is the fixed size of the log file header
	// Layout: Magic(4) + State(1) + Reserved(3) + Extent(8) + Session(16)
	HeaderSize = 32

	// RecordHeaderSize is the fixed size of a record header
	// Layout: Kind(1) + Offset(8) + Length(4)
	RecordHeaderSize = 13

	logMagic = "TXLG"
)

// Header is the log file header
type Header struct {
	State   State
	Extent  int64     // data file size before the logged batch
	Session uuid.UUID // identifies the batch in diagnostics
}

// Encode serializes the header
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], logMagic)
	buf[4] = byte(h.State)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Extent))
	copy(buf[16:32], h.Session[:])
	return buf
}

// DecodeHeader deserializes a log header
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize || string(data[0:4]) != logMagic {
		return nil, ErrBadHeader
	}
	h := &Header{
		State:  State(data[4]),
		Extent: int64(binary.LittleEndian.Uint64(data[8:16])),
	}
	copy(h.Session[:], data[16:32])
	if h.State > StateCommitted {
		return nil, ErrBadHeader
	}
	return h, nil
}

// Record is one pre-image: Data was found at Offset in the data file
type Record struct {
	Kind   RecordKind
	Offset int64
	Data   []byte
}

// Encode serializes the record with a trailing CRC32 checksum
// Format: [Kind(1)] [Offset(8)] [Length(4)] [Data] [CRC32(4)]
func (r *Record) Encode() []byte {
	buf := make([]byte, r.Size())
	buf[0] = byte(r.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(r.Offset))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(r.Data)))
	off := RecordHeaderSize + copy(buf[RecordHeaderSize:], r.Data)

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], crc)
	return buf
}

// DecodeRecord deserializes a record from bytes
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < RecordHeaderSize+4 {
		return nil, ErrTruncated
	}

	n := len(data)
	stored := binary.LittleEndian.Uint32(data[n-4:])
	if crc32.ChecksumIEEE(data[:n-4]) != stored {
		return nil, ErrCorrupted
	}

	length := binary.LittleEndian.Uint32(data[9:13])
	if RecordHeaderSize+int(length)+4 != n {
		return nil, ErrTruncated
	}

	r := &Record{
		Kind:   RecordKind(data[0]),
		Offset: int64(binary.LittleEndian.Uint64(data[1:9])),
	}
	if r.Kind != KindPreImage && r.Kind != KindEnd {
		return nil, ErrInvalidRecord
	}
	if length > 0 {
		r.Data = make([]byte, length)
		copy(r.Data, data[RecordHeaderSize:RecordHeaderSize+int(length)])
	}
	return r, nil
}

// Size returns the encoded size of the record
func (r *Record) Size() int {
	return RecordHeaderSize + len(r.Data) + 4
}

// String returns a human-readable representation of the record
func (r *Record) String() string {
	kind := "UNKNOWN"
	switch r.Kind {
	case KindPreImage:
		kind = "PREIMAGE"
	case KindEnd:
		kind = "END"
	}
	return fmt.Sprintf("WAL[Kind=%s Offset=%d Len=%d]", kind, r.Offset, len(r.Data))
}
