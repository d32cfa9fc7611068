package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// Reader reads pre-image records from a log file
type Reader struct {
	path   string
	fd     *os.File
	br     *bufio.Reader
	header *Header
	count  int  // pre-image records read so far
	ended  bool // end marker reached
}

// NewReader creates a log reader for the given path
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Open opens the log and decodes its header. An empty log, or one whose
// header was never completely written, yields a nil header and no error.
func (r *Reader) Open() error {
	fd, err := os.Open(r.path)
	if err != nil {
		return err
	}
	r.fd = fd
	r.br = bufio.NewReader(fd)

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		return err
	}

	h, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	r.header = h
	return nil
}

// Header returns the decoded log header, or nil for an empty log
func (r *Reader) Header() *Header {
	return r.header
}

// Next reads the next pre-image record. It returns io.EOF after the end
// marker. A log that stops before its end marker is reported as
// ErrTruncated.
func (r *Reader) Next() (*Record, error) {
	if r.header == nil || r.ended {
		return nil, io.EOF
	}

	head := make([]byte, RecordHeaderSize)
	if _, err := io.ReadFull(r.br, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}

	length := binary.LittleEndian.Uint32(head[9:13])
	data := make([]byte, RecordHeaderSize+int(length)+4)
	copy(data, head)
	if _, err := io.ReadFull(r.br, data[RecordHeaderSize:]); err != nil {
		return nil, ErrTruncated
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}

	if rec.Kind == KindEnd {
		// The end marker carries the record count in its offset field
		if rec.Offset != int64(r.count) {
			return nil, ErrCorrupted
		}
		r.ended = true
		return nil, io.EOF
	}

	r.count++
	return rec, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	if r.fd != nil {
		return r.fd.Close()
	}
	return nil
}

// ReadAll reads the header and every pre-image record of a complete log
func ReadAll(path string) (*Header, []*Record, error) {
	reader := NewReader(path)
	defer reader.Close()
	if err := reader.Open(); err != nil {
		return nil, nil, err
	}

	var records []*Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return reader.Header(), nil, err
		}
		records = append(records, rec)
	}

	return reader.Header(), records, nil
}
