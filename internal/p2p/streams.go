package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	klog "github.com/Klingon-tech/p2p-helper/internal/log"
)

// streamReaderStartDelay is the pause before a stream's background reader
// starts, so the host observes the openStream success response before any
// incomingStreamMsg upcall for that stream (spec §4.6, §5).
const streamReaderStartDelay = 250 * time.Millisecond

// streamReadBufSize is the reader loop's fixed buffer size (spec §4.6).
const streamReadBufSize = 4096

type streamEntry struct {
	idx    int64
	stream network.Stream
	peer   PeerInfo
	proto  string
}

// streamRegistry implements the stream registry (C6): open/close/reset/send
// plus per-stream reader loops, grounded on the teacher's heightreq.go/
// sync.go/handshake.go stream read/write idiom generalized from fixed
// single-purpose protocols to an arbitrary host-registered protocol table.
type streamRegistry struct {
	n *Node

	mu    sync.Mutex
	byIdx map[int64]*streamEntry
}

func newStreamRegistry(n *Node) *streamRegistry {
	return &streamRegistry{
		n:     n,
		byIdx: make(map[int64]*streamEntry),
	}
}

// OpenStream dials peerID if necessary and negotiates protocolID, starting
// the reader loop after streamReaderStartDelay.
func (r *streamRegistry) OpenStream(ctx context.Context, peerID peer.ID, protocolID string) (int64, PeerInfo, error) {
	s, err := r.n.host.NewStream(ctx, peerID, protocol.ID(protocolID))
	if err != nil {
		return 0, PeerInfo{}, fmt.Errorf("libp2p error: open stream: %w", err)
	}

	pi, err := peerInfoFromMultiaddr(peerID, s.Conn().RemoteMultiaddr())
	if err != nil {
		pi = PeerInfo{PeerID: peerID.String()}
	}

	idx := r.n.seq.Next()
	entry := &streamEntry{idx: idx, stream: s, peer: pi, proto: protocolID}
	r.mu.Lock()
	r.byIdx[idx] = entry
	r.mu.Unlock()

	time.AfterFunc(streamReaderStartDelay, func() { r.runReader(entry) })

	return idx, pi, nil
}

// SendStreamMsg writes all of data; a short write is surfaced as an error
// carrying the byte count actually written (spec §4.6).
func (r *streamRegistry) SendStreamMsg(idx int64, data []byte) error {
	entry, ok := r.lookup(idx)
	if !ok {
		return fmt.Errorf("internal RPC error: unknown stream_idx %d", idx)
	}
	n, err := entry.stream.Write(data)
	if err != nil {
		return fmt.Errorf("libp2p error: stream write (%d of %d bytes): %w", n, len(data), err)
	}
	if n != len(data) {
		return fmt.Errorf("internal RPC error: short write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// CloseStream half-closes the stream for writes; the entry survives until
// the reader observes EOF or an error.
func (r *streamRegistry) CloseStream(idx int64) error {
	entry, ok := r.lookup(idx)
	if !ok {
		return fmt.Errorf("internal RPC error: unknown stream_idx %d", idx)
	}
	if err := entry.stream.CloseWrite(); err != nil {
		return fmt.Errorf("libp2p error: close stream: %w", err)
	}
	return nil
}

// ResetStream hard-aborts the stream in both directions and removes the
// entry immediately.
func (r *streamRegistry) ResetStream(idx int64) error {
	entry, ok := r.take(idx)
	if !ok {
		return fmt.Errorf("internal RPC error: unknown stream_idx %d", idx)
	}
	if err := entry.stream.Reset(); err != nil {
		return fmt.Errorf("libp2p error: reset stream: %w", err)
	}
	return nil
}

// AddStreamHandler installs a server-side handler for protocolID: each
// inbound stream is registered, emits incomingStream, and starts its
// reader loop.
func (r *streamRegistry) AddStreamHandler(protocolID string) {
	r.n.host.SetStreamHandler(protocol.ID(protocolID), func(s network.Stream) {
		remoteID := s.Conn().RemotePeer()
		pi, err := peerInfoFromMultiaddr(remoteID, s.Conn().RemoteMultiaddr())
		if err != nil {
			pi = PeerInfo{PeerID: remoteID.String()}
		}

		idx := r.n.seq.Next()
		entry := &streamEntry{idx: idx, stream: s, peer: pi, proto: protocolID}
		r.mu.Lock()
		r.byIdx[idx] = entry
		r.mu.Unlock()

		r.n.upcalls.Emit(incomingStreamUpcall{
			Upcall:    "incomingStream",
			Peer:      pi,
			StreamIdx: idx,
			Protocol:  protocolID,
		})

		time.AfterFunc(streamReaderStartDelay, func() { r.runReader(entry) })
	})
}

// RemoveStreamHandler uninstalls the handler; existing streams under that
// protocol survive.
func (r *streamRegistry) RemoveStreamHandler(protocolID string) {
	r.n.host.RemoveStreamHandler(protocol.ID(protocolID))
}

func (r *streamRegistry) lookup(idx int64) (*streamEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byIdx[idx]
	return e, ok
}

func (r *streamRegistry) take(idx int64) (*streamEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byIdx[idx]
	if ok {
		delete(r.byIdx, idx)
	}
	return e, ok
}

func (r *streamRegistry) remove(idx int64) {
	r.mu.Lock()
	delete(r.byIdx, idx)
	r.mu.Unlock()
}

// runReader is the per-stream reader loop (spec §4.6): fixed 4096-byte
// buffer, ordered incomingStreamMsg upcalls, terminal
// streamReadComplete/streamLost. It never retries.
func (r *streamRegistry) runReader(entry *streamEntry) {
	buf := make([]byte, streamReadBufSize)
	for {
		n, err := entry.stream.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			r.n.upcalls.Emit(incomingStreamMsgUpcall{
				Upcall:    "incomingStreamMsg",
				StreamIdx: entry.idx,
				Data:      data,
			})
		}
		if err != nil {
			r.remove(entry.idx)
			if errors.Is(err, io.EOF) {
				r.n.upcalls.Emit(streamReadCompleteUpcall{
					Upcall:    "streamReadComplete",
					StreamIdx: entry.idx,
				})
			} else {
				klog.Streams.Debug().Int64("stream_idx", entry.idx).Err(err).Msg("stream read failed")
				r.n.upcalls.Emit(streamLostUpcall{
					Upcall:    "streamLost",
					StreamIdx: entry.idx,
					Reason:    err.Error(),
				})
			}
			return
		}
	}
}

// Upcall payloads (spec §6).
type incomingStreamUpcall struct {
	Upcall    string   `json:"upcall"`
	Peer      PeerInfo `json:"peer"`
	StreamIdx int64    `json:"stream_idx"`
	Protocol  string   `json:"protocol"`
}

type incomingStreamMsgUpcall struct {
	Upcall    string `json:"upcall"`
	StreamIdx int64  `json:"stream_idx"`
	Data      []byte `json:"data"`
}

type streamReadCompleteUpcall struct {
	Upcall    string `json:"upcall"`
	StreamIdx int64  `json:"stream_idx"`
}

type streamLostUpcall struct {
	Upcall    string `json:"upcall"`
	StreamIdx int64  `json:"stream_idx"`
	Reason    string `json:"reason"`
}

// Node-level wrappers over the stream registry, exported for the
// dispatcher (internal/ipc) to call.

func (n *Node) OpenStream(ctx context.Context, peerID peer.ID, protocolID string) (int64, PeerInfo, error) {
	return n.streams.OpenStream(ctx, peerID, protocolID)
}

func (n *Node) SendStreamMsg(idx int64, data []byte) error {
	return n.streams.SendStreamMsg(idx, data)
}

func (n *Node) CloseStream(idx int64) error {
	return n.streams.CloseStream(idx)
}

func (n *Node) ResetStream(idx int64) error {
	return n.streams.ResetStream(idx)
}

func (n *Node) AddStreamHandler(protocolID string) {
	n.streams.AddStreamHandler(protocolID)
}

func (n *Node) RemoveStreamHandler(protocolID string) {
	n.streams.RemoveStreamHandler(protocolID)
}
