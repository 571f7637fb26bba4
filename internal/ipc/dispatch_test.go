package ipc

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
)

// fakeLineReader feeds a fixed sequence of lines, then io.EOF.
type fakeLineReader struct {
	lines [][]byte
	i     int
}

func (f *fakeLineReader) ReadLine() ([]byte, error) {
	if f.i >= len(f.lines) {
		return nil, io.EOF
	}
	l := f.lines[f.i]
	f.i++
	return l, nil
}

// recordingOutbox captures every emitted value instead of writing to a wire.
type recordingOutbox struct {
	mu   sync.Mutex
	vals []any
}

func (o *recordingOutbox) Emit(v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vals = append(o.vals, v)
}

func (o *recordingOutbox) responses() []Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Response
	for _, v := range o.vals {
		if r, ok := v.(Response); ok {
			out = append(out, r)
		}
	}
	return out
}

func newDispatcherWithRecorder() (*Dispatcher, *recordingOutbox) {
	d := NewDispatcher(context.Background(), nil)
	ro := &recordingOutbox{}
	d.outbox = ro
	return d, ro
}

func envelopeLine(t *testing.T, method Method, seqno int64, body any) []byte {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	env := Envelope{Method: method, Seqno: seqno, Body: raw}
	line, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return line
}

func TestRejectsOperationsBeforeConfigure(t *testing.T) {
	d, ro := newDispatcherWithRecorder()
	line := envelopeLine(t, MethodListPeers, 1, struct{}{})
	if err := d.Dispatch(&fakeLineReader{lines: [][]byte{line}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	resps := ro.responses()
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Error == "" {
		t.Fatal("expected an error for listPeers before configure")
	}
}

func TestGenerateKeypairAllowedBeforeConfigure(t *testing.T) {
	d, ro := newDispatcherWithRecorder()
	line := envelopeLine(t, MethodGenerateKeypair, 1, struct{}{})
	if err := d.Dispatch(&fakeLineReader{lines: [][]byte{line}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	resps := ro.responses()
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Error != "" {
		t.Fatalf("generateKeypair must work before configure, got error: %s", resps[0].Error)
	}
}

func TestResponseCarriesMatchingSeqno(t *testing.T) {
	d, ro := newDispatcherWithRecorder()
	line := envelopeLine(t, MethodGenerateKeypair, 42, struct{}{})
	if err := d.Dispatch(&fakeLineReader{lines: [][]byte{line}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	resps := ro.responses()
	if len(resps) != 1 || resps[0].Seqno != 42 {
		t.Fatalf("expected seqno 42 echoed back, got %+v", resps)
	}
}

func TestHandlerPanicIsRecoveredAsError(t *testing.T) {
	d, ro := newDispatcherWithRecorder()
	d.handler[MethodListPeers] = func(dd *Dispatcher, ctx context.Context, body json.RawMessage) (any, error) {
		panic("boom")
	}
	line := envelopeLine(t, MethodListPeers, 7, struct{}{})
	if err := d.Dispatch(&fakeLineReader{lines: [][]byte{line}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	resps := ro.responses()
	if len(resps) != 1 || resps[0].Error == "" {
		t.Fatalf("expected panic to surface as a response error, got %+v", resps)
	}
}

func TestConfigureRejectsMalformedBody(t *testing.T) {
	d, ro := newDispatcherWithRecorder()
	env := Envelope{Method: MethodConfigure, Seqno: 1, Body: json.RawMessage(`{"statedir": 5}`)}
	line, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := d.Dispatch(&fakeLineReader{lines: [][]byte{line}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	resps := ro.responses()
	if len(resps) != 1 || resps[0].Error == "" {
		t.Fatalf("expected malformed configure body to surface as an error, got %+v", resps)
	}
}
