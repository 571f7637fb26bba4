package ipc

import (
	"encoding/json"
	"io"

	"github.com/Klingon-tech/p2p-helper/internal/codec"
	klog "github.com/Klingon-tech/p2p-helper/internal/log"
)

// outboxCapacity is the buffered channel capacity for the single outbound
// writer queue (spec §4.10: "capacity ≥ 4096").
const outboxCapacity = 4096

// Outbox is the event serializer (C10): every response and upcall is
// enqueued here and a single goroutine drains it to the wire in the order
// it was enqueued. It is the sole source of stdout bytes, and thus the
// ordering authority for all outputs (spec §4.10).
type Outbox struct {
	queue  chan any
	writer *codec.Writer
}

// NewOutbox starts the drain goroutine writing newline-delimited JSON to w.
func NewOutbox(w io.Writer) *Outbox {
	o := &Outbox{
		queue:  make(chan any, outboxCapacity),
		writer: codec.NewWriter(w, json.Marshal),
	}
	go o.run()
	return o
}

// Emit enqueues v (a Response or any upcall struct) for serialization.
// Implements p2p.UpcallSink.
func (o *Outbox) Emit(v any) {
	o.queue <- v
}

func (o *Outbox) run() {
	for v := range o.queue {
		if err := o.writer.WriteLine(v); err != nil {
			klog.IPC.Fatal().Err(err).Msg("write to stdout failed")
		}
	}
}
