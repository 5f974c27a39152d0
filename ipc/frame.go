// Package ipc decodes the chat backend's streaming wire format.
//
// The stream is a sequence of newline-terminated lines. Lines carrying a
// frame look like
//
//	data: {"type":"token","content":"Hi"}
//
// Everything else is noise and is skipped without aborting the stream.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pithecene-io/waypoint/types"
)

// Line constants.
const (
	// MaxLineSize is the longest line (excluding terminator) the decoder
	// will buffer. Longer lines are discarded.
	MaxLineSize = 1024 * 1024
	// DataPrefix marks a frame line.
	DataPrefix = "data: "
	// DoneSentinel is the literal end-of-stream payload.
	DoneSentinel = "[DONE]"
)

const readBufferSize = 32 * 1024

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorNonConforming indicates a line without the data prefix.
	FrameErrorNonConforming FrameErrorKind = iota
	// FrameErrorDecode indicates a frame line whose payload is not valid JSON.
	FrameErrorDecode
	// FrameErrorTooLarge indicates a line exceeding MaxLineSize.
	FrameErrorTooLarge
	// FrameErrorPartial indicates a trailing line with no terminator.
	FrameErrorPartial
	// FrameErrorRead indicates the underlying body failed.
	FrameErrorRead
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorNonConforming:
		return "non_conforming"
	case FrameErrorDecode:
		return "decode"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorPartial:
		return "partial"
	case FrameErrorRead:
		return "read"
	default:
		return "unknown"
	}
}

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error ends the stream.
// Only body read failures are fatal; malformed lines are skipped.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorRead
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// DecodeStats counts what the decoder saw. Every complete line lands in
// exactly one bucket.
type DecodeStats struct {
	Frames        int64
	Blank         int64
	Done          int64
	NonConforming int64
	Malformed     int64
	Oversize      int64
	// PartialDropped counts trailing unterminated lines (0 or 1).
	PartialDropped int64
}

// Skipped returns the number of lines that did not produce a frame.
func (s DecodeStats) Skipped() int64 {
	return s.Blank + s.Done + s.NonConforming + s.Malformed + s.Oversize + s.PartialDropped
}

// FrameDecoder reads frames from one response body. It is not restartable
// and not safe for concurrent use; Close may be called from any goroutine.
type FrameDecoder struct {
	body   io.ReadCloser
	reader *bufio.Reader
	stats  DecodeStats
	eof    bool

	closeOnce sync.Once
	closeErr  error
}

// NewFrameDecoder creates a decoder that owns body.
func NewFrameDecoder(body io.ReadCloser) *FrameDecoder {
	return &FrameDecoder{
		body:   body,
		reader: bufio.NewReaderSize(body, readBufferSize),
	}
}

// ReadEvent returns the next frame.
//
// Errors:
//   - io.EOF: the body ended (a trailing partial line has been dropped)
//   - *FrameError with Kind=FrameErrorRead: the body failed (fatal)
func (d *FrameDecoder) ReadEvent() (*types.Event, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, err
		}

		ev, err := DecodeLine(line)
		if err != nil {
			d.countSkip(err)
			continue
		}
		if ev == nil {
			if isDoneLine(line) {
				d.stats.Done++
			} else {
				d.stats.Blank++
			}
			continue
		}
		d.stats.Frames++
		return ev, nil
	}
}

// Stats returns the decoder's counters so far.
func (d *FrameDecoder) Stats() DecodeStats {
	return d.stats
}

// Close releases the body. Safe to call more than once.
func (d *FrameDecoder) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.body.Close()
	})
	return d.closeErr
}

func (d *FrameDecoder) countSkip(err error) {
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		d.stats.Malformed++
		return
	}
	switch frameErr.Kind {
	case FrameErrorNonConforming:
		d.stats.NonConforming++
	case FrameErrorTooLarge:
		d.stats.Oversize++
	default:
		d.stats.Malformed++
	}
}

// readLine returns the next complete line without its terminator. Lines
// longer than MaxLineSize are consumed and returned as nil with the
// oversize counter bumped.
func (d *FrameDecoder) readLine() ([]byte, error) {
	if d.eof {
		return nil, io.EOF
	}

	var buf []byte
	oversize := false
	for {
		chunk, err := d.reader.ReadSlice('\n')
		if !oversize {
			if len(buf)+len(chunk) > MaxLineSize+2 {
				oversize = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if oversize {
				d.stats.Oversize++
				buf = nil
				oversize = false
				continue
			}
			return trimTerminator(buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			d.eof = true
			if len(buf) > 0 || oversize {
				d.stats.PartialDropped++
			}
			return nil, io.EOF
		default:
			return nil, &FrameError{
				Kind: FrameErrorRead,
				Msg:  "failed to read stream",
				Err:  err,
			}
		}
	}
}

func trimTerminator(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

func isDoneLine(line []byte) bool {
	rest, ok := bytes.CutPrefix(line, []byte(DataPrefix))
	return ok && string(bytes.TrimSpace(rest)) == DoneSentinel
}

// DecodeLine decodes one complete line.
// Returns (nil, nil) for blank lines, empty frames and the done sentinel.
func DecodeLine(line []byte) (*types.Event, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, nil
	}
	if len(line) > MaxLineSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("line size %d exceeds maximum %d", len(line), MaxLineSize),
		}
	}

	rest, ok := bytes.CutPrefix(line, []byte(DataPrefix))
	if !ok {
		return nil, &FrameError{
			Kind: FrameErrorNonConforming,
			Msg:  "line is missing data prefix",
		}
	}

	payload := bytes.TrimSpace(rest)
	if len(payload) == 0 || string(payload) == DoneSentinel {
		return nil, nil
	}

	var ev types.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame",
			Err:  err,
		}
	}
	if ev.Type == "" {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "frame has no type",
		}
	}
	return &ev, nil
}
