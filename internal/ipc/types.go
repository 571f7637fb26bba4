// Package ipc implements the helper's stdio wire protocol: envelope
// parsing and method routing (C9), and the single-writer outbound queue
// (C10).
package ipc

import "encoding/json"

// Method is the closed, positionally-assigned method enumeration from the
// external interface (spec §6). The declaration order here is the wire
// order and must not change.
type Method int

const (
	MethodConfigure Method = iota
	MethodListen
	MethodPublish
	MethodSubscribe
	MethodUnsubscribe
	MethodValidationComplete
	MethodGenerateKeypair
	MethodOpenStream
	MethodCloseStream
	MethodResetStream
	MethodSendStreamMsg
	MethodRemoveStreamHandler
	MethodAddStreamHandler
	MethodListeningAddrs
	MethodAddPeer
	MethodBeginAdvertising
	MethodFindPeer
	MethodListPeers
	MethodSetGatingConfig
)

// Envelope is a single inbound command line (spec §4.9).
type Envelope struct {
	Method Method          `json:"method"`
	Seqno  int64           `json:"seqno"`
	Body   json.RawMessage `json:"body"`
}

// Response is a single outbound reply, always carrying the seqno of the
// envelope it answers (spec invariant 1). Success has no omitempty: an
// empty slice or zero-value result (e.g. listPeers with no connections) is
// still a successful response and must marshal its success field, not
// disappear into something that looks like the error shape.
type Response struct {
	Seqno    int64  `json:"seqno"`
	Success  any    `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// MarshalJSON writes an error response as {seqno, error} only, and a
// successful one as {seqno, success, duration}.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Seqno int64  `json:"seqno"`
			Error string `json:"error"`
		}{r.Seqno, r.Error})
	}
	type plain Response
	return json.Marshal(plain(r))
}

// Error tags used in Response.Error (spec §7).
const (
	ErrTagInternalRPC = "internal RPC error"
	ErrTagLibp2p      = "libp2p error"
	ErrTagInitHelper  = "initializing helper"
	ErrTagInitExtAddr = "initializing external addr"
)
