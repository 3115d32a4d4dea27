package rpcledger

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/identity"
	"github.com/textileio/auction-ledger/ledger"
	"github.com/textileio/auction-ledger/ledger/connprofile"
)

var log = golog.Logger("rpcledger")

// Config configures the Dialer.
type Config struct {
	// Timeout bounds every gateway call. Zero means no limit besides the caller's context.
	Timeout time.Duration
	// InsecureSkipVerify disables TLS verification of peers.
	InsecureSkipVerify bool
}

// Dialer opens sessions against ledger gateways. It implements ledger.Opener.
type Dialer struct {
	conf Config
}

var _ ledger.Opener = (*Dialer)(nil)

// NewDialer returns a new Dialer.
func NewDialer(conf Config) *Dialer {
	return &Dialer{conf: conf}
}

// Open tries the organization's peers in profile order and returns a session with
// the first one completing the handshake.
func (d *Dialer) Open(ctx context.Context, p ledger.Params) (ledger.Session, error) {
	if err := p.Validate(); err != nil {
		return nil, auction.NewError(auction.KindConnection, "Open", err)
	}
	peers, err := p.Profile.PeerEndpoints(p.Org)
	if err != nil {
		return nil, auction.NewError(auction.KindConnection, "Open", err)
	}

	var errs []string
	for _, peer := range peers {
		s, err := d.dial(ctx, peer, p)
		if err != nil {
			log.Warnf("connecting to peer %s: %s", peer.URL, err)
			errs = append(errs, fmt.Sprintf("%s: %s", peer.URL, err))
			continue
		}
		log.Debugf("connected to peer %s", peer.URL)
		return s, nil
	}
	return nil, auction.NewError(auction.KindConnection, "Open",
		fmt.Errorf("no peer completed the handshake: %s", strings.Join(errs, "; ")))
}

// Dial opens a session with the gateway at url.
func (d *Dialer) Dial(ctx context.Context, url string, p ledger.Params) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, auction.NewError(auction.KindConnection, "Open", err)
	}
	s, err := d.dial(ctx, connprofile.Peer{URL: url}, p)
	if err != nil {
		return nil, auction.NewError(auction.KindConnection, "Open", err)
	}
	return s, nil
}

func (d *Dialer) dial(ctx context.Context, peer connprofile.Peer, p ledger.Params) (*Session, error) {
	httpClient, err := d.httpClient(peer)
	if err != nil {
		return nil, err
	}
	client, err := rpc.DialHTTPWithClient(peer.URL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("dialing: %v", err)
	}
	signer, err := p.Credential.Signer()
	if err != nil {
		client.Close()
		return nil, err
	}

	req := HandshakeRequest{
		Certificate: p.Credential.Credentials.Certificate,
		MSPID:       p.Credential.MSPID,
		Channel:     p.Channel,
		Contract:    p.Contract,
		Timestamp:   time.Now().Unix(),
	}
	if req.Signature, err = identity.Sign(signer, req.SignedBytes()); err != nil {
		client.Close()
		return nil, fmt.Errorf("signing handshake: %v", err)
	}

	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	var res HandshakeResponse
	if err := client.CallContext(callCtx, &res, MethodHandshake, req); err != nil {
		client.Close()
		return nil, fmt.Errorf("handshake: %v", err)
	}
	if res.Token == "" {
		client.Close()
		return nil, errors.New("handshake returned an empty token")
	}

	return &Session{
		client:   client,
		signer:   signer,
		token:    res.Token,
		clientID: res.ClientID,
		channel:  p.Channel,
		contract: p.Contract,
		timeout:  d.conf.Timeout,
	}, nil
}

func (d *Dialer) httpClient(peer connprofile.Peer) (*http.Client, error) {
	if !strings.HasPrefix(peer.URL, "https://") {
		return &http.Client{}, nil
	}
	tlsConf := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: d.conf.InsecureSkipVerify, // nolint:gosec
	}
	if roots := peer.TLSCACerts.Bytes(); len(roots) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(roots) {
			return nil, errors.New("parsing peer tls certificates")
		}
		tlsConf.RootCAs = pool
	}
	return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConf}}, nil
}

func (d *Dialer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.conf.Timeout > 0 {
		return context.WithTimeout(ctx, d.conf.Timeout)
	}
	return context.WithCancel(ctx)
}

// Session is a ledger.Session over a gateway connection.
type Session struct {
	client   *rpc.Client
	signer   crypto.Signer
	token    string
	clientID string
	channel  string
	contract string
	timeout  time.Duration

	closeOnce sync.Once
}

var _ ledger.Session = (*Session)(nil)

// ClientID returns the identity the gateway assigned to the session.
func (s *Session) ClientID() string {
	return s.clientID
}

// Evaluate implements ledger.Session.
func (s *Session) Evaluate(ctx context.Context, function string, args ...string) ([]byte, error) {
	txID, err := ledger.NewTxID()
	if err != nil {
		return nil, auction.NewError(auction.KindQuery, function, err)
	}
	h := Header{
		Channel:  s.channel,
		Contract: s.contract,
		TxID:     txID,
		Function: function,
		Args:     args,
	}
	sig, err := s.sign(h)
	if err != nil {
		return nil, auction.NewError(auction.KindQuery, function, err)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	var res EvaluateResponse
	req := EvaluateRequest{Token: s.token, Header: h, Signature: sig}
	if err := s.client.CallContext(ctx, &res, MethodEvaluate, req); err != nil {
		return nil, auction.NewError(auction.KindQuery, function, err)
	}
	return res.Payload, nil
}

// Submit implements ledger.Session.
func (s *Session) Submit(ctx context.Context, p ledger.Proposal) (ledger.TxID, []byte, error) {
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
	h := Header{
		Channel:       s.channel,
		Contract:      s.contract,
		TxID:          p.TxID,
		Function:      p.Function,
		Args:          p.Args,
		Endorsers:     p.Endorsers,
		ChannelPolicy: p.ChannelPolicy,
	}
	sig, err := s.sign(h)
	if err != nil {
		return "", nil, auction.NewError(auction.KindCommit, p.Function, err)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	var res SubmitResponse
	req := SubmitRequest{Token: s.token, Header: h, Transient: p.Transient, Signature: sig}
	if err := s.client.CallContext(ctx, &res, MethodSubmit, req); err != nil {
		return "", nil, auction.NewError(auction.KindCommit, p.Function, err)
	}
	if res.TxID != p.TxID {
		return "", nil, auction.NewError(auction.KindCommit, p.Function,
			fmt.Errorf("gateway committed tx %s instead of %s", res.TxID, p.TxID))
	}
	return res.TxID, res.Payload, nil
}

// Close implements ledger.Session.
func (s *Session) Close() error {
	s.closeOnce.Do(s.client.Close)
	return nil
}

func (s *Session) sign(h Header) ([]byte, error) {
	b, err := h.Bytes()
	if err != nil {
		return nil, err
	}
	sig, err := identity.Sign(s.signer, b)
	if err != nil {
		return nil, fmt.Errorf("signing proposal: %v", err)
	}
	return sig, nil
}

func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}
