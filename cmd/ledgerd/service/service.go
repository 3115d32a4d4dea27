package service

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/channel"
	"github.com/textileio/auction-ledger/contract"
	"github.com/textileio/auction-ledger/identity"
	"github.com/textileio/auction-ledger/ledger/rpcledger"
	"github.com/textileio/auction-ledger/msgbroker"
	"go.opentelemetry.io/otel/metric"
)

var log = logging.Logger("ledgerd/service")

const (
	// DefaultTokenTTL is the session token lifetime used when none is configured.
	DefaultTokenTTL = time.Hour
	// DefaultMaxClockSkew bounds the age of a handshake timestamp.
	DefaultMaxClockSkew = 5 * time.Minute
)

var (
	// ErrUnauthenticated indicates a missing or invalid session token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrBadSignature indicates a request signature that doesn't match the session certificate.
	ErrBadSignature = errors.New("bad signature")
)

var eventTopics = map[contract.EventType]msgbroker.TopicName{
	contract.EventAuctionCreated: msgbroker.AuctionCreatedTopic,
	contract.EventBidSubmitted:   msgbroker.BidSubmittedTopic,
	contract.EventBidRevealed:    msgbroker.BidRevealedTopic,
	contract.EventAuctionClosed:  msgbroker.AuctionClosedTopic,
}

// Config is the service config.
type Config struct {
	// TokenSecret signs session tokens.
	TokenSecret []byte
	TokenTTL    time.Duration
	// MaxClockSkew bounds how far a handshake timestamp may drift from the local clock.
	MaxClockSkew time.Duration
	// CARoots optionally pins the certificate authorities trusted for each organization.
	// Organizations without an entry accept any certificate proving key possession.
	CARoots map[auction.OrgID]*x509.CertPool
}

// Service exposes a channel through the gateway JSON-RPC API.
type Service struct {
	conf   Config
	ch     *channel.Channel
	mb     msgbroker.MsgBroker
	server *rpc.Server

	metricRequests               metric.Int64Counter
	metricRequestDurationMillis  metric.Int64Histogram
	metricPublishedEvents        metric.Int64Counter
	metricCommittedTransactions  metric.Int64Counter
	metricRejectedAuthentication metric.Int64Counter
}

// New returns a new service. mb may be nil, in which case no events are published.
func New(ch *channel.Channel, mb msgbroker.MsgBroker, conf Config) (*Service, error) {
	if ch == nil {
		return nil, errors.New("channel is nil")
	}
	if len(conf.TokenSecret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	if conf.TokenTTL <= 0 {
		conf.TokenTTL = DefaultTokenTTL
	}
	if conf.MaxClockSkew <= 0 {
		conf.MaxClockSkew = DefaultMaxClockSkew
	}
	s := &Service{
		conf:   conf,
		ch:     ch,
		mb:     mb,
		server: rpc.NewServer(),
	}
	s.initMetrics()
	if err := s.server.RegisterName(rpcledger.Namespace, &api{s: s}); err != nil {
		return nil, fmt.Errorf("registering gateway api: %v", err)
	}
	for _, org := range s.UnpinnedOrgs() {
		log.Warnf("no CA roots are pinned for %s: any certificate claiming %s is accepted", org, org)
	}
	log.Infof("serving channel %s with contract %s", ch.Name(), ch.Contract())
	return s, nil
}

// UnpinnedOrgs returns the channel members without pinned CA roots. Their clients
// only prove possession of the key of the presented certificate.
func (s *Service) UnpinnedOrgs() []auction.OrgID {
	var orgs []auction.OrgID
	for _, org := range s.ch.Orgs() {
		if s.conf.CARoots[org] == nil {
			orgs = append(orgs, org)
		}
	}
	return orgs
}

// Handler returns the HTTP handler of the JSON-RPC API.
func (s *Service) Handler() http.Handler {
	return s.server
}

// Close stops serving requests and waits for in-flight writes.
func (s *Service) Close() error {
	s.server.Stop()
	s.ch.Close()
	log.Info("service was shutdown")
	return nil
}

// Handshake authenticates a client and returns a session token.
func (s *Service) Handshake(ctx context.Context, req rpcledger.HandshakeRequest) (res rpcledger.HandshakeResponse, err error) {
	defer func() { s.rejected(ctx, "handshake", err) }()

	if !s.ch.HasOrg(req.MSPID) {
		return res, fmt.Errorf("%w: %s", channel.ErrUnknownOrg, req.MSPID)
	}
	if req.Channel != s.ch.Name() {
		return res, fmt.Errorf("channel %s not found", req.Channel)
	}
	if req.Contract != s.ch.Contract() {
		return res, fmt.Errorf("contract %s isn't deployed on channel %s", req.Contract, req.Channel)
	}
	skew := time.Since(time.Unix(req.Timestamp, 0))
	if skew > s.conf.MaxClockSkew || skew < -s.conf.MaxClockSkew {
		return res, fmt.Errorf("handshake timestamp is off by %s", skew.Round(time.Second))
	}
	cert, err := identity.ParseCertificate([]byte(req.Certificate))
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if err := s.verifyChain(req.MSPID, cert); err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if err := identity.Verify(cert, req.SignedBytes(), req.Signature); err != nil {
		return res, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	clientID := identity.ClientID(cert)
	claims := newClaims(clientID, req.MSPID, req.Channel, req.Contract, req.Certificate, s.conf.TokenTTL)
	token, err := issueToken(s.conf.TokenSecret, claims)
	if err != nil {
		return res, err
	}
	log.Debugf("client %s of %s opened a session", clientID, req.MSPID)
	return rpcledger.HandshakeResponse{
		Token:     token,
		ClientID:  clientID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Evaluate runs a signed read.
func (s *Service) Evaluate(ctx context.Context, req rpcledger.EvaluateRequest) (res rpcledger.EvaluateResponse, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "evaluate", req.Header.Function, start, err) }()

	claims, err := s.authenticate(ctx, req.Token, req.Header, req.Signature)
	if err != nil {
		return res, err
	}
	payload, err := s.ch.Evaluate(ctx, channel.Invocation{
		TxID:     req.Header.TxID,
		Function: req.Header.Function,
		Args:     req.Header.Args,
		ClientID: claims.Subject,
		MSPID:    claims.MSPID,
	})
	if err != nil {
		return res, err
	}
	return rpcledger.EvaluateResponse{Payload: payload}, nil
}

// Submit endorses and commits a signed write, then publishes its event.
func (s *Service) Submit(ctx context.Context, req rpcledger.SubmitRequest) (res rpcledger.SubmitResponse, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "submit", req.Header.Function, start, err) }()

	claims, err := s.authenticate(ctx, req.Token, req.Header, req.Signature)
	if err != nil {
		return res, err
	}
	result, err := s.ch.Submit(ctx, channel.Invocation{
		TxID:          req.Header.TxID,
		Function:      req.Header.Function,
		Args:          req.Header.Args,
		ClientID:      claims.Subject,
		MSPID:         claims.MSPID,
		Endorsers:     req.Header.Endorsers,
		ChannelPolicy: req.Header.ChannelPolicy,
		Transient:     auction.Transient(req.Transient),
	})
	if err != nil {
		return res, err
	}
	s.metricCommittedTransactions.Add(ctx, 1, functionAttr(req.Header.Function))

	if result.Event != nil {
		s.publish(ctx, req.Header, *result.Event)
	}
	return rpcledger.SubmitResponse{TxID: req.Header.TxID, Payload: result.Payload}, nil
}

func (s *Service) authenticate(
	ctx context.Context,
	token string,
	h rpcledger.Header,
	sig []byte) (claims *SessionClaims, err error) {
	defer func() { s.rejected(ctx, "proposal", err) }()

	claims, err = parseToken(s.conf.TokenSecret, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if h.Channel != claims.Channel || h.Contract != claims.Contract {
		return nil, fmt.Errorf("session is bound to %s/%s", claims.Channel, claims.Contract)
	}
	cert, err := identity.ParseCertificate([]byte(claims.Certificate))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	b, err := h.Bytes()
	if err != nil {
		return nil, err
	}
	if err := identity.Verify(cert, b, sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return claims, nil
}

func (s *Service) verifyChain(mspID auction.OrgID, cert *x509.Certificate) error {
	roots, ok := s.conf.CARoots[mspID]
	if !ok {
		return nil
	}
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("verifying certificate chain: %v", err)
	}
	return nil
}

// publish reports a committed event. The transaction is already final, so
// failures are only logged.
func (s *Service) publish(ctx context.Context, h rpcledger.Header, ev contract.Event) {
	if s.mb == nil {
		return
	}
	topic, ok := eventTopics[ev.Type]
	if !ok {
		log.Errorf("unknown event type %s of tx %s", ev.Type, h.TxID)
		return
	}
	e := msgbroker.NewLedgerEvent(h.TxID, ev.Auction, ev.BidID)
	err := msgbroker.PublishMsgLedgerEvent(ctx, s.mb, topic, e)
	s.metricPublish(ctx, topic, err)
	if err != nil {
		log.Errorf("publishing %s event of tx %s: %s", topic, h.TxID, err)
	}
}

// api is the receiver registered with the RPC server. Only its methods are exposed.
type api struct {
	s *Service
}

func (a *api) Handshake(ctx context.Context, req rpcledger.HandshakeRequest) (rpcledger.HandshakeResponse, error) {
	return a.s.Handshake(ctx, req)
}

func (a *api) Evaluate(ctx context.Context, req rpcledger.EvaluateRequest) (rpcledger.EvaluateResponse, error) {
	return a.s.Evaluate(ctx, req)
}

func (a *api) Submit(ctx context.Context, req rpcledger.SubmitRequest) (rpcledger.SubmitResponse, error) {
	return a.s.Submit(ctx, req)
}
