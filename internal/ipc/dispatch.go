package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	klog "github.com/Klingon-tech/p2p-helper/internal/log"
	"github.com/Klingon-tech/p2p-helper/internal/p2p"
	"github.com/Klingon-tech/p2p-helper/internal/seq"
)

type handlerFunc func(d *Dispatcher, ctx context.Context, body json.RawMessage) (any, error)

// emitter is the narrow interface Dispatcher needs from an outbox; *Outbox
// satisfies it, and tests can substitute a recorder.
type emitter interface {
	Emit(v any)
}

// Dispatcher is the command dispatcher (C9): parse envelope, route to
// handler, serialize result or error. Generalizes the teacher's
// internal/rpc/server.go dispatch switch from an HTTP JSON-RPC 2.0
// string-method route to a stdio integer-method route.
type Dispatcher struct {
	ctx     context.Context
	outbox  emitter
	seq     *seq.Source
	node    atomic.Pointer[p2p.Node]
	handler map[Method]handlerFunc
}

// NewDispatcher builds the method table once.
func NewDispatcher(ctx context.Context, outbox *Outbox) *Dispatcher {
	d := &Dispatcher{
		ctx:    ctx,
		outbox: outbox,
		seq:    &seq.Source{},
	}
	d.handler = map[Method]handlerFunc{
		MethodConfigure:           (*Dispatcher).handleConfigure,
		MethodListen:              (*Dispatcher).handleListen,
		MethodPublish:             (*Dispatcher).handlePublish,
		MethodSubscribe:           (*Dispatcher).handleSubscribe,
		MethodUnsubscribe:         (*Dispatcher).handleUnsubscribe,
		MethodValidationComplete:  (*Dispatcher).handleValidationComplete,
		MethodGenerateKeypair:     (*Dispatcher).handleGenerateKeypair,
		MethodOpenStream:          (*Dispatcher).handleOpenStream,
		MethodCloseStream:         (*Dispatcher).handleCloseStream,
		MethodResetStream:         (*Dispatcher).handleResetStream,
		MethodSendStreamMsg:       (*Dispatcher).handleSendStreamMsg,
		MethodRemoveStreamHandler: (*Dispatcher).handleRemoveStreamHandler,
		MethodAddStreamHandler:    (*Dispatcher).handleAddStreamHandler,
		MethodListeningAddrs:      (*Dispatcher).handleListeningAddrs,
		MethodAddPeer:             (*Dispatcher).handleAddPeer,
		MethodBeginAdvertising:    (*Dispatcher).handleBeginAdvertising,
		MethodFindPeer:            (*Dispatcher).handleFindPeer,
		MethodListPeers:           (*Dispatcher).handleListPeers,
		MethodSetGatingConfig:     (*Dispatcher).handleSetGatingConfig,
	}
	return d
}

// Dispatch runs the line-reading loop against r until EOF or a fatal
// protocol error, emitting a Response for every accepted envelope (spec
// invariant 1) through the outbox.
func (d *Dispatcher) Dispatch(r lineReader) error {
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			klog.IPC.Fatal().Err(err).Msg("reading input line failed")
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			klog.IPC.Fatal().Err(err).Str("line", string(line)).Msg("malformed envelope")
		}

		d.handleEnvelope(env)
	}
}

// lineReader is the subset of codec.Reader that Dispatch needs, kept
// narrow so tests can substitute a fake.
type lineReader interface {
	ReadLine() ([]byte, error)
}

func (d *Dispatcher) handleEnvelope(env Envelope) {
	fn, ok := d.handler[env.Method]
	if !ok {
		klog.IPC.Fatal().Int("method", int(env.Method)).Msg("unknown method")
		return
	}

	start := time.Now()
	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				klog.IPC.Error().Interface("panic", r).Int("method", int(env.Method)).Msg("handler panicked")
				err = fmt.Errorf("%s: handler panic: %v", ErrTagInternalRPC, r)
			}
		}()
		return fn(d, d.ctx, env.Body)
	}()
	duration := time.Since(start)

	resp := Response{Seqno: env.Seqno, Duration: duration.String()}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Success = result
	}
	d.outbox.Emit(resp)
}

// requireConfigured enforces invariant 5: only configure and
// generateKeypair are allowed before a successful configure.
func (d *Dispatcher) requireConfigured() (*p2p.Node, error) {
	n := d.node.Load()
	if n == nil {
		return nil, fmt.Errorf("%s: helper not yet configured", ErrTagInternalRPC)
	}
	return n, nil
}

func decodeBody[T any](body json.RawMessage) (T, error) {
	var v T
	if len(body) > 0 {
		if err := json.Unmarshal(body, &v); err != nil {
			var zero T
			return zero, fmt.Errorf("%s: malformed request body: %w", ErrTagInternalRPC, err)
		}
	}
	return v, nil
}

func (d *Dispatcher) handleConfigure(ctx context.Context, body json.RawMessage) (any, error) {
	if d.node.Load() != nil {
		return nil, fmt.Errorf("%s: configure already called", ErrTagInternalRPC)
	}
	req, err := decodeBody[configureRequest](body)
	if err != nil {
		return nil, err
	}

	n, err := p2p.Configure(ctx, p2p.Config{
		StateDir:        req.StateDir,
		PrivateKey:      req.PrivateKey,
		NetworkID:       req.NetworkID,
		ListenAddrs:     req.Ifaces,
		ExternalMaddr:   req.ExternalMaddr,
		UnsafeNoTrustIP: req.UnsafeNoTrustIP,
		Flood:           req.Flood,
		PeerExchange:    req.PeerExchange,
		DirectPeers:     req.DirectPeers,
		SeedPeers:       req.SeedPeers,
	}, d.seq, d.outbox)
	if err != nil {
		return nil, err
	}
	n.SetGatingConfig(toGatingConfig(req.GatingConfig))

	d.node.Store(n)
	return true, nil
}

func (d *Dispatcher) handleListen(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[listenRequest](body)
	if err != nil {
		return nil, err
	}
	addrs, err := n.Listen(req.Ifaces)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

func (d *Dispatcher) handlePublish(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[publishRequest](body)
	if err != nil {
		return nil, err
	}
	if err := n.Publish(ctx, req.Topic, req.Data); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) handleSubscribe(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[subscribeRequest](body)
	if err != nil {
		return nil, err
	}
	if err := n.Subscribe(ctx, req.Topic, req.SubscriptionIdx); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) handleUnsubscribe(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[unsubscribeRequest](body)
	if err != nil {
		return nil, err
	}
	if err := n.Unsubscribe(req.SubscriptionIdx); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) handleValidationComplete(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[validationCompleteRequest](body)
	if err != nil {
		return nil, err
	}
	if err := n.ValidationComplete(req.Seqno, req.IsValid); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) handleGenerateKeypair(ctx context.Context, body json.RawMessage) (any, error) {
	kp, err := p2p.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return kp, nil
}

func (d *Dispatcher) handleOpenStream(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[openStreamRequest](body)
	if err != nil {
		return nil, err
	}
	id, err := peer.Decode(req.Peer.PeerID)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed peer_id: %w", ErrTagInternalRPC, err)
	}
	idx, pi, err := n.OpenStream(ctx, id, req.Protocol)
	if err != nil {
		return nil, err
	}
	return openStreamResponse{StreamIdx: idx, Peer: pi}, nil
}

func (d *Dispatcher) handleCloseStream(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[closeStreamRequest](body)
	if err != nil {
		return nil, err
	}
	if err := n.CloseStream(req.StreamIdx); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) handleResetStream(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[resetStreamRequest](body)
	if err != nil {
		return nil, err
	}
	if err := n.ResetStream(req.StreamIdx); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) handleSendStreamMsg(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[sendStreamMsgRequest](body)
	if err != nil {
		return nil, err
	}
	if err := n.SendStreamMsg(req.StreamIdx, req.Data); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) handleRemoveStreamHandler(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[streamHandlerRequest](body)
	if err != nil {
		return nil, err
	}
	n.RemoveStreamHandler(req.Protocol)
	return true, nil
}

func (d *Dispatcher) handleAddStreamHandler(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[streamHandlerRequest](body)
	if err != nil {
		return nil, err
	}
	n.AddStreamHandler(req.Protocol)
	return true, nil
}

func (d *Dispatcher) handleListeningAddrs(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	return n.ListeningAddrs(), nil
}

func (d *Dispatcher) handleAddPeer(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[addPeerRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, n.AddPeer(ctx, req.Peer.PeerID)
}

func (d *Dispatcher) handleBeginAdvertising(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	if err := n.BeginAdvertising(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) handleFindPeer(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[findPeerRequest](body)
	if err != nil {
		return nil, err
	}
	id, err := peer.Decode(req.PeerID)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed peer_id: %w", ErrTagInternalRPC, err)
	}
	return n.FindPeer(id)
}

func (d *Dispatcher) handleListPeers(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	return n.ListPeers(), nil
}

func (d *Dispatcher) handleSetGatingConfig(ctx context.Context, body json.RawMessage) (any, error) {
	n, err := d.requireConfigured()
	if err != nil {
		return nil, err
	}
	req, err := decodeBody[setGatingConfigRequest](body)
	if err != nil {
		return nil, err
	}
	n.SetGatingConfig(toGatingConfig(req.GatingConfig))
	return true, nil
}
