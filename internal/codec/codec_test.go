package codec

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestReaderReadLine(t *testing.T) {
	r := NewReader(strings.NewReader("{\"a\":1}\n{\"b\":2}\n"))

	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("first line: %v", err)
	}
	if string(line) != `{"a":1}` {
		t.Fatalf("got %q", line)
	}

	line, err = r.ReadLine()
	if err != nil {
		t.Fatalf("second line: %v", err)
	}
	if string(line) != `{"b":2}` {
		t.Fatalf("got %q", line)
	}

	if _, err := r.ReadLine(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderLargeLine(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 5*1024*1024)
	line := append([]byte(`{"data":"`+string(payload)+`"}`), '\n')

	r := NewReader(bytes.NewReader(line))
	got, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read large line: %v", err)
	}
	if len(got) != len(line)-1 {
		t.Fatalf("truncated: got %d want %d", len(got), len(line)-1)
	}
}

func TestWriterWriteLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, json.Marshal)

	if err := w.WriteLine(map[string]int{"seqno": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "{\"seqno\":1}\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestWriterMarshalError(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, func(any) ([]byte, error) {
		return nil, io.ErrUnexpectedEOF
	})
	if err := w.WriteLine(1); err == nil {
		t.Fatal("expected error")
	}
}

func TestBlobRoundTrip(t *testing.T) {
	type msg struct {
		Data []byte `json:"data"`
	}
	want := msg{Data: []byte("hello world")}
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got msg
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("got %q want %q", got.Data, want.Data)
	}
}
