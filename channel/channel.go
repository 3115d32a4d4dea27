package channel

import (
	"context"
	"errors"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/contract"
	"github.com/textileio/auction-ledger/ledger"
	"github.com/textileio/auction-ledger/sempool"
	"github.com/textileio/auction-ledger/store"
)

var (
	log = golog.Logger("channel")

	// ErrUnknownOrg indicates an organization that isn't a channel member.
	ErrUnknownOrg = errors.New("organization isn't a channel member")
	// ErrDuplicateTx indicates the transaction id was already used.
	ErrDuplicateTx = store.ErrDuplicateTx
)

// Config defines the channel.
type Config struct {
	Name     string
	Contract string
	Orgs     []auction.OrgID
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("channel name is empty")
	}
	if c.Contract == "" {
		return errors.New("contract name is empty")
	}
	if len(c.Orgs) == 0 {
		return errors.New("channel has no organizations")
	}
	seen := map[auction.OrgID]bool{}
	for _, o := range c.Orgs {
		if o == "" {
			return errors.New("organization is empty")
		}
		if seen[o] {
			return fmt.Errorf("organization %s is duplicated", o)
		}
		seen[o] = true
	}
	return nil
}

// Invocation is a contract call made by an authenticated client.
type Invocation struct {
	TxID          ledger.TxID
	Function      string
	Args          []string
	ClientID      string
	MSPID         auction.OrgID
	Endorsers     []auction.OrgID
	ChannelPolicy bool
	Transient     auction.Transient
}

// Channel hosts the auction contract for its member organizations. Writes to the
// same auction are simulated and committed one at a time.
type Channel struct {
	conf  Config
	orgs  map[auction.OrgID]struct{}
	store *store.Store
	locks *sempool.SemaphorePool
}

// New returns a channel keeping its state in the given datastore.
func New(conf Config, d ds.Batching) (*Channel, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	orgs := make(map[auction.OrgID]struct{}, len(conf.Orgs))
	for _, o := range conf.Orgs {
		orgs[o] = struct{}{}
	}
	return &Channel{
		conf:  conf,
		orgs:  orgs,
		store: store.New(d),
		locks: sempool.NewSemaphorePool(1),
	}, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.conf.Name
}

// Contract returns the name of the contract deployed on the channel.
func (c *Channel) Contract() string {
	return c.conf.Contract
}

// Orgs returns the channel members in configuration order.
func (c *Channel) Orgs() []auction.OrgID {
	return append([]auction.OrgID(nil), c.conf.Orgs...)
}

// HasOrg returns true if org is a channel member.
func (c *Channel) HasOrg(org auction.OrgID) bool {
	_, ok := c.orgs[org]
	return ok
}

// Store returns the channel store.
func (c *Channel) Store() *store.Store {
	return c.store
}

// Evaluate runs a read-only contract function.
func (c *Channel) Evaluate(ctx context.Context, inv Invocation) ([]byte, error) {
	if !c.HasOrg(inv.MSPID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrg, inv.MSPID)
	}
	res, err := contract.Invoke(ctx, contract.TxContext{
		TxID:     inv.TxID,
		ClientID: inv.ClientID,
		MSPID:    inv.MSPID,
		ReadOnly: true,
		Stub:     c.store.NewSimulation(),
	}, inv.Function, inv.Args)
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// Submit endorses and commits a contract write.
func (c *Channel) Submit(ctx context.Context, inv Invocation) (contract.Result, error) {
	if err := c.validate(inv); err != nil {
		return contract.Result{}, err
	}

	lock := c.locks.Get(lockKey(inv))
	if err := lock.AcquireContext(ctx); err != nil {
		return contract.Result{}, fmt.Errorf("waiting for auction lock: %v", err)
	}
	defer lock.Release()

	exists, err := c.store.HasTx(ctx, inv.TxID)
	if err != nil {
		return contract.Result{}, err
	}
	if exists {
		return contract.Result{}, ErrDuplicateTx
	}

	sim := c.store.NewSimulation()
	res, err := contract.Invoke(ctx, contract.TxContext{
		TxID:          inv.TxID,
		ClientID:      inv.ClientID,
		MSPID:         inv.MSPID,
		Endorsers:     inv.Endorsers,
		ChannelPolicy: inv.ChannelPolicy,
		Transient:     inv.Transient,
		Stub:          sim,
	}, inv.Function, inv.Args)
	if err != nil {
		return contract.Result{}, err
	}

	rec := store.TxRecord{
		ID:        inv.TxID,
		Function:  inv.Function,
		Args:      inv.Args,
		Creator:   inv.ClientID,
		MSPID:     inv.MSPID,
		Endorsers: inv.Endorsers,
	}
	if err := c.store.Commit(ctx, rec, sim); err != nil {
		return contract.Result{}, err
	}
	log.Infof("committed tx %s: %s%v by %s", inv.TxID, inv.Function, inv.Args, inv.MSPID)
	return res, nil
}

// Close waits for in-flight writes and rejects new ones.
func (c *Channel) Close() {
	c.locks.Stop()
}

func (c *Channel) validate(inv Invocation) error {
	if inv.TxID == "" {
		return errors.New("transaction id is empty")
	}
	if inv.Function == "" {
		return errors.New("function is empty")
	}
	if !c.HasOrg(inv.MSPID) {
		return fmt.Errorf("%w: %s", ErrUnknownOrg, inv.MSPID)
	}
	if inv.ChannelPolicy && len(inv.Endorsers) > 0 {
		return errors.New("channel policy writes can't name endorsers")
	}
	if !inv.ChannelPolicy && len(inv.Endorsers) == 0 {
		return errors.New("endorsing organizations are empty")
	}
	seen := map[auction.OrgID]bool{}
	for _, o := range inv.Endorsers {
		if !c.HasOrg(o) {
			return fmt.Errorf("%w: endorser %s", ErrUnknownOrg, o)
		}
		if seen[o] {
			return fmt.Errorf("endorser %s is duplicated", o)
		}
		seen[o] = true
	}
	return nil
}

// lockKey serializes writes per auction. Functions without an auction argument
// only contend on their own transaction.
func lockKey(inv Invocation) sempool.StringKey {
	if inv.Function != auction.FnGetSubmittingClientIdentity && len(inv.Args) > 0 {
		return sempool.StringKey("auction/" + inv.Args[0])
	}
	return sempool.StringKey("tx/" + string(inv.TxID))
}
