// Package recording reads and writes JSONL captures of host events.
//
// A recording is a header line followed by one event per line:
//
//	{"format":"dragcheck-recording","version":1,"page_loaded_at":1700000000000}
//	{"kind":"pointer_move","t":1700000000310,"x":12,"y":40}
//	{"kind":"drop","t":1700000001900,"payload":"robot"}
package recording

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"

	"dragcheck/internal/events"
)

const (
	// Format is the header's format marker.
	Format = "dragcheck-recording"

	// Version is the only recording version this package reads.
	Version = 1

	maxLineSize = 1 << 20
)

// ErrInvalidRecording is returned for malformed headers or event lines.
var ErrInvalidRecording = errors.New("invalid recording")

// Viewport is the host viewport at capture time.
type Viewport struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Header is the first line of a recording.
type Header struct {
	Format       string    `json:"format"`
	Version      int       `json:"version"`
	PageLoadedAt int64     `json:"page_loaded_at"`
	Viewport     *Viewport `json:"viewport,omitempty"`
	Source       string    `json:"source,omitempty"`
	CreatedAt    string    `json:"created_at,omitempty"`
}

// NewHeader returns a header for a capture that began at pageLoad.
func NewHeader(pageLoad int64) Header {
	return Header{Format: Format, Version: Version, PageLoadedAt: pageLoad}
}

// LineError locates a problem within a recording.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() []error {
	return []error{ErrInvalidRecording, e.Err}
}

func lineErr(line int, err error) error {
	return &LineError{Line: line, Err: err}
}

// Reader streams a recording. It implements events.Source and may be
// streamed once.
type Reader struct {
	sc     *bufio.Scanner
	header Header
	line   int
}

// NewReader reads and checks the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	rd := &Reader{sc: sc}
	raw, ok, err := rd.next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lineErr(1, errors.New("missing header"))
	}
	if err := validateLine(headerSchema, raw); err != nil {
		return nil, lineErr(rd.line, err)
	}
	if err := json.Unmarshal(raw, &rd.header); err != nil {
		return nil, lineErr(rd.line, err)
	}
	return rd, nil
}

// Header returns the recording header.
func (r *Reader) Header() Header {
	return r.header
}

// next returns the next non-blank line.
func (r *Reader) next() ([]byte, bool, error) {
	for r.sc.Scan() {
		r.line++
		raw := bytes.TrimSpace(r.sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		return raw, true, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, false, fmt.Errorf("read recording: %w", err)
	}
	return nil, false, nil
}

// Stream emits every event line in file order.
func (r *Reader) Stream(ctx context.Context, emit func(events.Event) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		ev, err := decodeEvent(raw)
		if err != nil {
			return lineErr(r.line, err)
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}

func decodeEvent(raw []byte) (events.Event, error) {
	if err := validateLine(eventSchema, raw); err != nil {
		return events.Event{}, err
	}
	var ev events.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

// Validate checks a whole recording without keeping its events. It returns
// the number of events read.
func Validate(r io.Reader) (int, error) {
	rd, err := NewReader(r)
	if err != nil {
		return 0, err
	}
	n := 0
	err = rd.Stream(context.Background(), func(events.Event) error {
		n++
		return nil
	})
	return n, err
}

// File is an open recording on disk.
type File struct {
	*Reader
	f *os.File
}

// Open opens the recording at path and reads its header.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	rd, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{Reader: rd, f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// Writer writes a recording.
type Writer struct {
	w   *bufio.Writer
	enc *json.Encoder
	n   int
}

// NewWriter writes h to w and returns a writer for the events that follow.
// Format and Version are filled in when empty.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if h.Format == "" {
		h.Format = Format
	}
	if h.Version == 0 {
		h.Version = Version
	}
	if h.CreatedAt == "" {
		h.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Writer{w: bw, enc: enc}, nil
}

// Write appends one event.
func (w *Writer) Write(ev events.Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecording, ev.Kind)
	}
	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.n++
	return nil
}

// Count returns the number of events written.
func (w *Writer) Count() int {
	return w.n
}

// Flush flushes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Record drains src into a new recording on w.
func Record(ctx context.Context, w io.Writer, h Header, src events.Source) (int, error) {
	rw, err := NewWriter(w, h)
	if err != nil {
		return 0, err
	}
	if err := src.Stream(ctx, rw.Write); err != nil {
		return rw.Count(), err
	}
	return rw.Count(), rw.Flush()
}

// Digest returns the hex blake2b-256 digest of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash recording: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
