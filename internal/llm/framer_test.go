package llm

import (
	"strings"
	"testing"
)

func collectFrames(t *testing.T, f *LineFramer, input string, chunkSize int) []Frame {
	t.Helper()
	var frames []Frame
	for i := 0; i < len(input); i += chunkSize {
		end := i + chunkSize
		if end > len(input) {
			end = len(input)
		}
		got, err := f.Push([]byte(input[i:end]))
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		frames = append(frames, got...)
	}
	return frames
}

func TestFramerNDJSONChunkBoundaryInvariance(t *testing.T) {
	input := `{"type":"text","text":"hello"}
{"type":"usage","tokens":42}
{"type":"done"}
`
	whole := collectFrames(t, NewLineFramer(FrameNDJSON), input, len(input))

	for _, size := range []int{1, 2, 3, 7, 13} {
		split := collectFrames(t, NewLineFramer(FrameNDJSON), input, size)
		if len(split) != len(whole) {
			t.Fatalf("chunk size %d: got %d frames, want %d", size, len(split), len(whole))
		}
		for i := range split {
			if string(split[i].Data) != string(whole[i].Data) {
				t.Errorf("chunk size %d frame %d: got %q, want %q", size, i, split[i].Data, whole[i].Data)
			}
		}
	}
}

func TestFramerNDJSONMalformedCompleteRecord(t *testing.T) {
	f := NewLineFramer(FrameNDJSON)
	frames, err := f.Push([]byte("{\"broken\": \n"))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("incomplete-looking line should be held, got %d frames", len(frames))
	}

	frames, err = f.Push([]byte("{not json}\n{\"ok\":true}\n"))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Err == nil {
		t.Error("malformed complete record should carry an error")
	}
	if string(frames[1].Data) != `{"ok":true}` {
		t.Errorf("stream should continue past a bad record, got %q", frames[1].Data)
	}
}

func TestFramerNDJSONRecordSpanningLines(t *testing.T) {
	f := NewLineFramer(FrameNDJSON)
	frames, err := f.Push([]byte("{\"text\": \"first\nsecond\"}\n"))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Err != nil {
		t.Fatalf("unexpected frame error: %v", frames[0].Err)
	}
	if !strings.Contains(string(frames[0].Data), "firstsecond") {
		t.Errorf("continuation lines should be rejoined, got %q", frames[0].Data)
	}
}

func TestFramerOversizedLineFailsStream(t *testing.T) {
	f := NewLineFramer(FrameNDJSON)
	f.SetMaxLineBytes(64)
	_, err := f.Push([]byte(strings.Repeat("x", 100)))
	if err == nil {
		t.Fatal("expected oversized line to fail the stream")
	}
	frames, err := f.Push([]byte("{\"late\":true}\n"))
	if err != nil || len(frames) != 0 {
		t.Errorf("finished framer should be inert, got %d frames, err %v", len(frames), err)
	}
}

func TestFramerSSE(t *testing.T) {
	f := NewLineFramer(FrameSSE)
	input := "event: message\ndata: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n"
	frames := collectFrames(t, f, input, 5)

	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if string(frames[0].Data) != `{"a":1}` || string(frames[1].Data) != `{"b":2}` {
		t.Errorf("unexpected payloads: %q %q", frames[0].Data, frames[1].Data)
	}
	if !frames[2].Done {
		t.Error("[DONE] sentinel should mark the terminal frame")
	}

	late, err := f.Push([]byte("data: {\"c\":3}\n"))
	if err != nil || len(late) != 0 {
		t.Errorf("frames after [DONE] should be dropped, got %d, err %v", len(late), err)
	}
}

func TestFramerSSECarriageReturns(t *testing.T) {
	f := NewLineFramer(FrameSSE)
	frames, err := f.Push([]byte("data: {\"a\":1}\r\n"))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(frames) != 1 || string(frames[0].Data) != `{"a":1}` {
		t.Fatalf("CRLF line endings should be handled, got %v", frames)
	}
}
