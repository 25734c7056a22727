package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FramerMode selects the wire framing for a provider stream.
type FramerMode int

const (
	// FrameNDJSON yields one JSON object per newline-terminated line.
	FrameNDJSON FramerMode = iota
	// FrameSSE yields the payload of each "data: " line; "[DONE]" ends
	// the stream.
	FrameSSE
)

// DefaultMaxLineBytes caps a single logical line before the framer gives up.
const DefaultMaxLineBytes = 1 << 20

// Frame is one decoded unit from a provider stream. Err is set for a line
// that looked like a complete record but failed to parse; such frames are
// recoverable and the stream continues.
type Frame struct {
	Data []byte
	Done bool // SSE [DONE] sentinel
	Err  error
}

// LineFramer accumulates raw byte chunks and yields complete records
// regardless of where the transport split them. It is not safe for
// concurrent use.
type LineFramer struct {
	mode     FramerMode
	buf      bytes.Buffer
	pending  string // NDJSON record held across a mid-record line break
	maxLine  int
	finished bool
}

func NewLineFramer(mode FramerMode) *LineFramer {
	return &LineFramer{mode: mode, maxLine: DefaultMaxLineBytes}
}

// SetMaxLineBytes overrides the per-line size cap.
func (f *LineFramer) SetMaxLineBytes(n int) {
	if n > 0 {
		f.maxLine = n
	}
}

// Push appends chunk to the internal buffer and drains every complete
// record. A non-nil error is fatal to the stream (oversized line); parse
// errors on individual lines come back as frames with Err set.
func (f *LineFramer) Push(chunk []byte) ([]Frame, error) {
	if f.finished {
		return nil, nil
	}
	f.buf.Write(chunk)

	var frames []Frame
	for {
		raw := f.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			if f.buf.Len() > f.maxLine {
				f.finished = true
				return frames, fmt.Errorf("line exceeds %d bytes without terminator", f.maxLine)
			}
			return frames, nil
		}
		line := string(raw[:idx])
		f.buf.Next(idx + 1)
		line = strings.TrimRight(line, "\r")

		switch f.mode {
		case FrameNDJSON:
			frame, keep := f.drainNDJSON(line)
			if keep {
				frames = append(frames, frame)
			}
		case FrameSSE:
			frame, keep := f.drainSSE(line)
			if keep {
				frames = append(frames, frame)
				if frame.Done {
					f.finished = true
					return frames, nil
				}
			}
		}
	}
}

func (f *LineFramer) drainNDJSON(line string) (Frame, bool) {
	line = f.pending + line
	f.pending = ""
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Frame{}, false
	}
	if json.Valid([]byte(trimmed)) {
		return Frame{Data: []byte(trimmed)}, true
	}
	// A line that looks like a whole object but will not parse is a
	// protocol violation; anything else may be a record that spans
	// lines, so hold it until more data arrives.
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return Frame{Err: fmt.Errorf("malformed JSON record: %.120s", trimmed)}, true
	}
	if len(line) > f.maxLine {
		return Frame{Err: fmt.Errorf("record exceeds %d bytes", f.maxLine)}, true
	}
	f.pending = line
	return Frame{}, false
}

func (f *LineFramer) drainSSE(line string) (Frame, bool) {
	if line == "" {
		return Frame{}, false
	}
	payload, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		// Comment lines and fields like "event:" are ignored.
		return Frame{}, false
	}
	if strings.TrimSpace(payload) == "[DONE]" {
		return Frame{Done: true}, true
	}
	return Frame{Data: []byte(payload)}, true
}
