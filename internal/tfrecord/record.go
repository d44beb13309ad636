// Package tfrecord reads and writes TFRecord files and the tf.train.Example
// messages they usually carry.
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrCorrupt is returned when a record fails its checksum or is truncated.
var ErrCorrupt = errors.New("tfrecord: corrupt record")

const maskDelta = 0xa282ead8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Writer frames records as
//
//	uint64 length | uint32 masked crc32c(length) | data | uint32 masked crc32c(data)
//
// with all integers little-endian.
type Writer struct {
	w       *bufio.Writer
	records int
	bytes   int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 1<<20)}
}

// Write appends one record.
func (w *Writer) Write(data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))

	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write record data: %w", err)
	}
	if _, err := w.w.Write(footer[:]); err != nil {
		return fmt.Errorf("write record footer: %w", err)
	}
	w.records++
	w.bytes += int64(len(header) + len(data) + len(footer))
	return nil
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Records is the number of records written so far.
func (w *Writer) Records() int {
	return w.records
}

// Bytes is the framed size of everything written so far.
func (w *Writer) Bytes() int64 {
	return w.bytes
}

// Reader reads framed records and verifies both checksums.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1<<20)}
}

// Next returns the next record or io.EOF after the last one.
func (r *Reader) Next() ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if got, want := binary.LittleEndian.Uint32(header[8:]), maskedCRC(header[:8]); got != want {
		return nil, fmt.Errorf("%w: length crc %08x want %08x", ErrCorrupt, got, want)
	}

	length := binary.LittleEndian.Uint64(header[:8])
	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrCorrupt, err)
	}
	var footer [4]byte
	if _, err := io.ReadFull(r.r, footer[:]); err != nil {
		return nil, fmt.Errorf("%w: footer: %v", ErrCorrupt, err)
	}
	if got, want := binary.LittleEndian.Uint32(footer[:]), maskedCRC(data); got != want {
		return nil, fmt.Errorf("%w: data crc %08x want %08x", ErrCorrupt, got, want)
	}
	return data, nil
}
