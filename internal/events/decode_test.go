package events

import (
	"errors"
	"testing"

	apperrors "github.com/mindgrid/go-chat-v2/pkg/errors"
)

func TestDecodeFrame(t *testing.T) {
	evt, err := DecodeFrame([]byte(`{"type":"content-chunk","threadId":"t1","data":{"delta":"Hi"}}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if evt.Type != TypeContentChunk {
		t.Errorf("Type = %q, want content-chunk", evt.Type)
	}
	if evt.ThreadID != "t1" {
		t.Errorf("ThreadID = %q, want t1", evt.ThreadID)
	}
}

func TestDecodeFrameMissingType(t *testing.T) {
	evt, err := DecodeFrame([]byte(`{"data":{"x":1}}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if evt.Type != TypeUnknown {
		t.Errorf("Type = %q, want unknown", evt.Type)
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	_, err := DecodeFrame([]byte(`{not json`))
	if !errors.Is(err, apperrors.ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestDecodeChunk(t *testing.T) {
	evt := Event{Type: TypeContentChunk, Data: []byte(`{"delta":"abc"}`)}
	got, err := Decode(evt)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	chunk, ok := got.(ChunkData)
	if !ok {
		t.Fatalf("payload type = %T, want ChunkData", got)
	}
	if chunk.Text() != "abc" {
		t.Errorf("Text() = %q, want abc", chunk.Text())
	}
}

func TestDecodeChunkContentFallback(t *testing.T) {
	chunk := ChunkData{Content: "xyz"}
	if chunk.Text() != "xyz" {
		t.Errorf("Text() = %q, want xyz", chunk.Text())
	}
}

func TestDecodeMessageUpdate(t *testing.T) {
	evt := Event{Type: TypeMessageUpdate, Data: []byte(`{"id":"m1","role":"assistant","content":"Hi","status":"processing"}`)}
	got, err := Decode(evt)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	msg := got.(MessagePayload)
	if msg.ID != "m1" || msg.Status != StatusProcessing {
		t.Errorf("payload = %+v", msg)
	}
}

func TestDecodeMessageMissingID(t *testing.T) {
	tests := []string{TypeMessageUpdate, TypeCompleted}
	for _, typ := range tests {
		evt := Event{Type: typ, Data: []byte(`{"role":"assistant","content":"x"}`)}
		if _, err := Decode(evt); !errors.Is(err, apperrors.ErrDecode) {
			t.Errorf("%s without id: err = %v, want ErrDecode", typ, err)
		}
	}
}

func TestDecodeCancellation(t *testing.T) {
	evt := Event{Type: TypeCancelled, Data: []byte(`{"messageId":"m2"}`)}
	got, err := Decode(evt)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.(CancellationData).MessageID != "m2" {
		t.Errorf("MessageID = %v", got)
	}

	evt.Data = []byte(`{}`)
	if _, err := Decode(evt); !errors.Is(err, apperrors.ErrDecode) {
		t.Errorf("cancellation without messageId: err = %v, want ErrDecode", err)
	}
}

func TestDecodeScanProgress(t *testing.T) {
	evt := Event{Type: TypeScanProgress, Data: []byte(`{"correlationId":"s1","stage":"searching","progress":40,"cancelable":true}`)}
	got, err := Decode(evt)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := got.(ScanProgressData)
	if p.CorrelationID != "s1" || p.Stage != StageSearching || !p.Cancelable {
		t.Errorf("payload = %+v", p)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	evt := Event{Type: "mystery", Data: []byte(`{}`)}
	if _, err := Decode(evt); !errors.Is(err, apperrors.ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		s    Status
		want bool
	}{
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusCancelled, true},
		{StatusFailed, true},
		{Status(""), false},
	}
	for _, tc := range tests {
		if got := tc.s.Terminal(); got != tc.want {
			t.Errorf("Terminal(%q) = %v, want %v", tc.s, got, tc.want)
		}
	}
}

func TestScanStageTerminal(t *testing.T) {
	terminal := []ScanStage{StageCompleted, StageError, StageScanCancelled}
	for _, s := range terminal {
		if !s.TerminalStage() {
			t.Errorf("TerminalStage(%q) = false, want true", s)
		}
	}
	active := []ScanStage{StageIdle, StageInitializing, StageFetchingIndex, StageSearching, StageChecking, StageCompleting}
	for _, s := range active {
		if s.TerminalStage() {
			t.Errorf("TerminalStage(%q) = true, want false", s)
		}
	}
}
