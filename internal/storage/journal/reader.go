package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/digirec/internal/event"
)

// maxFrameSize bounds a single batch frame.
const maxFrameSize = 256 * 1024 * 1024

// Reader reads batches from one segment file.
type Reader struct {
	path string
	file *os.File
}

// NewReader opens a segment and verifies its header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	if magic := binary.LittleEndian.Uint64(header[0:8]); magic != journalMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", uint64(journalMagic), magic)
	}
	if version := binary.LittleEndian.Uint32(header[8:12]); version != journalVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{path: path, file: f}, nil
}

// Next returns the next batch, or io.EOF at the end of the segment.
func (r *Reader) Next() ([]event.Record, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	if actualCRC := crc32.ChecksumIEEE(payload); actualCRC != expectedCRC {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC)
	}

	return decodeRecords(payload)
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll returns every record of every segment in dir, in append order.
// A torn or corrupt frame ends its segment; the number of segments cut
// short this way is returned as truncated.
func ReadAll(dir string) (recs []event.Record, truncated int, err error) {
	segments, err := listSegments(dir)
	if err != nil {
		return nil, 0, err
	}

	for _, seg := range segments {
		r, err := NewReader(seg.path)
		if err != nil {
			return recs, truncated, fmt.Errorf("segment %s: %w", seg.path, err)
		}

		for {
			batch, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				truncated++
				break
			}
			recs = append(recs, batch...)
		}
		r.Close()
	}

	return recs, truncated, nil
}
