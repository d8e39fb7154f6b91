// Package journal records raw streaming frames to a zstd-compressed JSONL
// file so a capture can be replayed offline or fed to the fake server.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry is one recorded frame with its arrival time.
type Entry struct {
	ReceivedAt time.Time       `json:"received_at"`
	Collection string          `json:"collection"`
	Frame      json.RawMessage `json:"frame"`
}

// Writer appends entries to a zstd stream, one JSON object per line.
type Writer struct {
	zw  *zstd.Encoder
	buf *bufio.Writer
}

func NewWriter(w io.Writer) (*Writer, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	return &Writer{zw: zw, buf: bufio.NewWriter(zw)}, nil
}

func (w *Writer) Write(collection string, frame []byte) error {
	entry := Entry{
		ReceivedAt: time.Now().UTC(),
		Collection: collection,
		Frame:      json.RawMessage(frame),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if _, err := w.buf.Write(data); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

// Close flushes and finalizes the zstd stream. The underlying file is the
// caller's to close.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.zw.Close()
}

// Reader iterates a recorded journal.
type Reader struct {
	zr      *zstd.Decoder
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) (*Reader, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{zr: zr, scanner: scanner}, nil
}

// Next returns the following entry, or io.EOF when the journal is finished.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("decode journal entry: %w", err)
	}
	return &entry, nil
}

func (r *Reader) Close() {
	r.zr.Close()
}
