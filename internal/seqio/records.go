package seqio

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// Shard files use the TFRecord wire framing so prepared data stays readable
// by the original tooling:
//
//	uint64 length, little endian
//	uint32 masked crc32c of the length bytes
//	byte   data[length]
//	uint32 masked crc32c of the data
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const crcMaskDelta = 0xa282ead8

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + crcMaskDelta
}

// RecordWriter frames records onto an underlying writer.
type RecordWriter struct {
	w *bufio.Writer
}

func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: bufio.NewWriter(w)}
}

// Write frames a single record.
func (rw *RecordWriter) Write(rec []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(rec)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))

	if _, err := rw.w.Write(header[:]); err != nil {
		return errors.Wrap(err, "failed to write record header")
	}
	if _, err := rw.w.Write(rec); err != nil {
		return errors.Wrap(err, "failed to write record data")
	}

	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(rec))
	if _, err := rw.w.Write(footer[:]); err != nil {
		return errors.Wrap(err, "failed to write record footer")
	}
	return nil
}

// Flush pushes buffered frames to the underlying writer.
func (rw *RecordWriter) Flush() error {
	return rw.w.Flush()
}

// RecordReader reads framed records, verifying both checksums.
type RecordReader struct {
	r *bufio.Reader
}

func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReader(r)}
}

// Next returns the next record, io.EOF at a clean end of stream.
func (rr *RecordReader) Next() ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(rr.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to read record header")
	}
	if maskedCRC(header[:8]) != binary.LittleEndian.Uint32(header[8:]) {
		return nil, errors.New("corrupt record: length checksum mismatch")
	}

	length := binary.LittleEndian.Uint64(header[:8])
	buf := make([]byte, length+4)
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		return nil, errors.Wrap(err, "failed to read record data")
	}

	rec := buf[:length]
	if maskedCRC(rec) != binary.LittleEndian.Uint32(buf[length:]) {
		return nil, errors.New("corrupt record: data checksum mismatch")
	}
	return rec, nil
}
