package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opengda/scanning-go/pkg/log"
)

const (
	// LengthPrefixSize is the size of the big-endian length prefix.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize bounds a single frame payload (1 MiB). Scan
	// models with long point arrays are larger than typical control traffic.
	DefaultMaxMessageSize = 1 << 20
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// tracer emits frame events for one connection.
type tracer struct {
	logger log.Logger
	connID string
	role   log.Role
	remote string
}

func (t *tracer) frame(data []byte, dir log.Direction) {
	if t == nil || t.logger == nil {
		return
	}
	log.Emit(t.logger, log.Event{
		ConnectionID: t.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    t.role,
		RemoteAddr:   t.remote,
		Frame:        log.NewFrameEvent(data),
	})
}

// FrameWriter writes length-prefixed frames. It is safe for concurrent use.
type FrameWriter struct {
	mu      sync.Mutex
	w       io.Writer
	maxSize uint32
	trace   *tracer
}

// NewFrameWriter returns a writer limited to DefaultMaxMessageSize.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize returns a writer limited to maxSize bytes per
// payload.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{w: w, maxSize: maxSize}
}

// SetLogger traces written frames to logger under connID. A nil logger
// disables tracing.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.trace = &tracer{logger: logger, connID: connID}
}

// WriteFrame writes the prefix and payload in a single Write call so that
// message-oriented writers see whole frames.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint64(len(data)) > uint64(fw.maxSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxSize)
	}

	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fw.trace.frame(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames. It is not safe for concurrent
// use.
type FrameReader struct {
	r       io.Reader
	maxSize uint32
	prefix  [LengthPrefixSize]byte
	trace   *tracer
}

// NewFrameReader returns a reader limited to DefaultMaxMessageSize.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize returns a reader that rejects payloads larger
// than maxSize.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{r: r, maxSize: maxSize}
}

// SetLogger traces read frames to logger under connID.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.trace = &tracer{logger: logger, connID: connID}
}

// ReadFrame returns the next payload. A clean end of stream between frames
// is io.EOF; an end of stream inside a frame is ErrFrameTruncated.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.prefix[:]); err != nil {
		switch {
		case err == io.EOF:
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(fr.prefix[:])
	if n == 0 {
		return nil, ErrMessageEmpty
	}
	if n > fr.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, fr.maxSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	fr.trace.frame(payload, log.DirectionIn)
	return payload, nil
}

// Framer reads and writes frames on one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer returns a framer limited to DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize returns a framer limited to maxSize in both
// directions.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger traces both directions.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.setTracer(&tracer{logger: logger, connID: connID})
}

func (f *Framer) setTracer(t *tracer) {
	f.FrameReader.trace = t
	f.FrameWriter.mu.Lock()
	f.FrameWriter.trace = t
	f.FrameWriter.mu.Unlock()
}

// FrameSize returns the encoded size of a payload of payloadSize bytes.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
