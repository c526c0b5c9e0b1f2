// Package agentproto frames and encodes SSH agent protocol messages.
package agentproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tkingovr/ssh-agent-guard/internal/wire"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize matches OpenSSH's ssh-agent input limit (256 KB).
	DefaultMaxMessageSize = 256 * 1024
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the declared length exceeds the ceiling.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates a frame without an opcode byte.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// FrameReader reads length-prefixed frames from an underlying reader.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte

	logger *slog.Logger
}

// NewFrameReader creates a frame reader with the default ceiling.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom ceiling.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: maxSize,
	}
}

// SetLogger enables debug logging of frames. Pass nil to disable.
func (fr *FrameReader) SetLogger(logger *slog.Logger) {
	fr.logger = logger
}

// ReadFrame reads one frame and returns its body (opcode + payload).
// It returns io.EOF only when the stream ends cleanly between frames.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	if fr.logger != nil {
		fr.logger.Debug("frame read", "size", FrameSize(len(body)), "type", MessageType(body[0]).String())
	}
	return body, nil
}

// FrameWriter writes length-prefixed frames to an underlying writer.
// It is not safe for concurrent use; agent connections carry one
// request/response at a time.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32

	logger *slog.Logger
}

// NewFrameWriter creates a frame writer with the default ceiling.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom ceiling.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
	}
}

// SetLogger enables debug logging of frames. Pass nil to disable.
func (fw *FrameWriter) SetLogger(logger *slog.Logger) {
	fw.logger = logger
}

// WriteFrame writes body prefixed by its length as a single write.
func (fw *FrameWriter) WriteFrame(body []byte) error {
	if len(body) == 0 {
		return ErrMessageEmpty
	}
	if err := wire.CheckLength(uint64(len(body))); err != nil {
		return err
	}
	if uint64(len(body)) > uint64(fw.maxMessageSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(body), fw.maxMessageSize)
	}

	frame := make([]byte, LengthPrefixSize, FrameSize(len(body)))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	frame = append(frame, body...)

	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if fw.logger != nil {
		fw.logger.Debug("frame written", "size", len(frame), "type", MessageType(body[0]).String())
	}
	return nil
}

// Framer combines frame reading and writing over one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize creates a framer with a custom ceiling.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures logging for both halves.
func (f *Framer) SetLogger(logger *slog.Logger) {
	f.FrameReader.SetLogger(logger)
	f.FrameWriter.SetLogger(logger)
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(bodySize int) int {
	return LengthPrefixSize + bodySize
}
