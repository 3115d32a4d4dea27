// Package fakeledger runs the auction contract in process over an in-memory
// datastore. Sessions record every call they make.
package fakeledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/channel"
	"github.com/textileio/auction-ledger/identity"
	"github.com/textileio/auction-ledger/ledger"
)

const (
	// DefaultChannel is the channel name of the network.
	DefaultChannel = "mychannel"
	// DefaultContract is the contract name of the network.
	DefaultContract = "auction-chaincode"
)

var errSessionClosed = errors.New("session is closed")

// Method is the kind of a recorded call.
type Method string

const (
	// MethodEvaluate is a read.
	MethodEvaluate Method = "evaluate"
	// MethodSubmit is a write.
	MethodSubmit Method = "submit"
)

// Call is a recorded session call.
type Call struct {
	Method        Method
	MSPID         auction.OrgID
	TxID          ledger.TxID
	Function      string
	Args          []string
	Endorsers     []auction.OrgID
	ChannelPolicy bool
	Transient     auction.Transient
}

// Hook can fail a call before it reaches the contract.
type Hook func(Call) error

// Network is an in-process ledger.
type Network struct {
	ch *channel.Channel

	lk    sync.Mutex
	calls []Call
	hook  Hook
}

var _ ledger.Opener = (*Network)(nil)

// New returns a network with the given member organizations.
func New(orgs ...auction.OrgID) (*Network, error) {
	ch, err := channel.New(channel.Config{
		Name:     DefaultChannel,
		Contract: DefaultContract,
		Orgs:     orgs,
	}, dssync.MutexWrap(ds.NewMapDatastore()))
	if err != nil {
		return nil, fmt.Errorf("creating channel: %v", err)
	}
	return &Network{ch: ch}, nil
}

// Open implements ledger.Opener.
func (n *Network) Open(_ context.Context, p ledger.Params) (ledger.Session, error) {
	if err := p.Validate(); err != nil {
		return nil, auction.NewError(auction.KindConnection, "Open", err)
	}
	if p.Channel != n.ch.Name() || p.Contract != n.ch.Contract() {
		return nil, auction.NewError(auction.KindConnection, "Open",
			fmt.Errorf("contract %s not found on channel %s", p.Contract, p.Channel))
	}
	return n.Session(p.Credential)
}

// Session returns a session bound to the credential.
func (n *Network) Session(cred identity.Credential) (*Session, error) {
	if err := cred.Validate(); err != nil {
		return nil, auction.NewError(auction.KindConnection, "Open", err)
	}
	if !n.ch.HasOrg(cred.MSPID) {
		return nil, auction.NewError(auction.KindConnection, "Open",
			fmt.Errorf("%w: %s", channel.ErrUnknownOrg, cred.MSPID))
	}
	clientID, err := cred.ClientID()
	if err != nil {
		return nil, auction.NewError(auction.KindConnection, "Open", err)
	}
	return &Session{net: n, clientID: clientID, mspID: cred.MSPID}, nil
}

// SetHook installs a hook called before every call. A nil hook removes it.
func (n *Network) SetHook(h Hook) {
	n.lk.Lock()
	defer n.lk.Unlock()
	n.hook = h
}

// Calls returns the calls recorded so far.
func (n *Network) Calls() []Call {
	n.lk.Lock()
	defer n.lk.Unlock()
	calls := make([]Call, len(n.calls))
	copy(calls, n.calls)
	return calls
}

// Submits returns the recorded writes.
func (n *Network) Submits() []Call {
	var res []Call
	for _, c := range n.Calls() {
		if c.Method == MethodSubmit {
			res = append(res, c)
		}
	}
	return res
}

// ResetCalls clears the recorded calls.
func (n *Network) ResetCalls() {
	n.lk.Lock()
	defer n.lk.Unlock()
	n.calls = nil
}

func (n *Network) record(c Call) error {
	n.lk.Lock()
	n.calls = append(n.calls, c)
	hook := n.hook
	n.lk.Unlock()
	if hook != nil {
		return hook(c)
	}
	return nil
}

// Session is a ledger.Session of a Network.
type Session struct {
	net      *Network
	clientID string
	mspID    auction.OrgID

	lk     sync.Mutex
	closed bool
}

var _ ledger.Session = (*Session)(nil)

// Evaluate implements ledger.Session.
func (s *Session) Evaluate(ctx context.Context, function string, args ...string) ([]byte, error) {
	if s.isClosed() {
		return nil, auction.NewError(auction.KindConnection, function, errSessionClosed)
	}
	if err := s.net.record(Call{
		Method:   MethodEvaluate,
		MSPID:    s.mspID,
		Function: function,
		Args:     args,
	}); err != nil {
		return nil, auction.NewError(auction.KindQuery, function, err)
	}
	res, err := s.net.ch.Evaluate(ctx, channel.Invocation{
		Function: function,
		Args:     args,
		ClientID: s.clientID,
		MSPID:    s.mspID,
	})
	if err != nil {
		return nil, auction.NewError(auction.KindQuery, function, err)
	}
	return res, nil
}

// Submit implements ledger.Session.
func (s *Session) Submit(ctx context.Context, p ledger.Proposal) (ledger.TxID, []byte, error) {
	if s.isClosed() {
		return "", nil, auction.NewError(auction.KindConnection, p.Function, errSessionClosed)
	}
	if err := p.Validate(); err != nil {
		return "", nil, auction.NewError(auction.KindCommit, p.Function, err)
	}
	if p.TxID == "" {
		id, err := ledger.NewTxID()
		if err != nil {
			return "", nil, auction.NewError(auction.KindCommit, p.Function, err)
		}
		p.TxID = id
	}
	if err := s.net.record(Call{
		Method:        MethodSubmit,
		MSPID:         s.mspID,
		TxID:          p.TxID,
		Function:      p.Function,
		Args:          p.Args,
		Endorsers:     p.Endorsers,
		ChannelPolicy: p.ChannelPolicy,
		Transient:     p.Transient,
	}); err != nil {
		return "", nil, auction.NewError(auction.KindCommit, p.Function, err)
	}
	res, err := s.net.ch.Submit(ctx, channel.Invocation{
		TxID:          p.TxID,
		Function:      p.Function,
		Args:          p.Args,
		ClientID:      s.clientID,
		MSPID:         s.mspID,
		Endorsers:     p.Endorsers,
		ChannelPolicy: p.ChannelPolicy,
		Transient:     p.Transient,
	})
	if err != nil {
		return "", nil, auction.NewError(auction.KindCommit, p.Function, err)
	}
	return p.TxID, res.Payload, nil
}

// Close implements ledger.Session.
func (s *Session) Close() error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.closed = true
	return nil
}

func (s *Session) isClosed() bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.closed
}
