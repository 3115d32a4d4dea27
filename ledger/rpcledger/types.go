package rpcledger

import (
	"encoding/json"
	"fmt"

	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/ledger"
)

// Namespace is the JSON-RPC namespace of the gateway API.
const Namespace = "gateway"

// Gateway JSON-RPC methods.
const (
	MethodHandshake = Namespace + "_handshake"
	MethodEvaluate  = Namespace + "_evaluate"
	MethodSubmit    = Namespace + "_submit"
)

// HandshakeRequest proves possession of the credential's key and asks for a
// session token.
type HandshakeRequest struct {
	Certificate string        `json:"certificate"`
	MSPID       auction.OrgID `json:"mspId"`
	Channel     string        `json:"channel"`
	Contract    string        `json:"contract"`
	Timestamp   int64         `json:"timestamp"`
	Signature   []byte        `json:"signature"`
}

// SignedBytes returns the bytes covered by the signature.
func (r HandshakeRequest) SignedBytes() []byte {
	return []byte(fmt.Sprintf("%s\n%s\n%s\n%s\n%d", r.Certificate, r.MSPID, r.Channel, r.Contract, r.Timestamp))
}

// HandshakeResponse carries the session token.
type HandshakeResponse struct {
	Token     string `json:"token"`
	ClientID  string `json:"clientId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Header is the public, signed part of a proposal.
type Header struct {
	Channel       string          `json:"channel"`
	Contract      string          `json:"contract"`
	TxID          ledger.TxID     `json:"txId"`
	Function      string          `json:"function"`
	Args          []string        `json:"args"`
	Endorsers     []auction.OrgID `json:"endorsers,omitempty"`
	ChannelPolicy bool            `json:"channelPolicy,omitempty"`
}

// Bytes returns the signed encoding of the header.
func (h Header) Bytes() ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encoding proposal header: %v", err)
	}
	return b, nil
}

// EvaluateRequest is a signed read.
type EvaluateRequest struct {
	Token     string `json:"token"`
	Header    Header `json:"header"`
	Signature []byte `json:"signature"`
}

// EvaluateResponse is the result of a read.
type EvaluateResponse struct {
	Payload []byte `json:"payload"`
}

// SubmitRequest is a signed write. Transient data isn't covered by the signature
// and is never recorded.
type SubmitRequest struct {
	Token     string            `json:"token"`
	Header    Header            `json:"header"`
	Transient map[string][]byte `json:"transient,omitempty"`
	Signature []byte            `json:"signature"`
}

// SubmitResponse is the result of a committed write.
type SubmitResponse struct {
	TxID    ledger.TxID `json:"txId"`
	Payload []byte      `json:"payload"`
}
