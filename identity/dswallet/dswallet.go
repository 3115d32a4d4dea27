package dswallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	badger "github.com/textileio/go-ds-badger3"
	"github.com/textileio/auction-ledger/identity"
)

var (
	log = logging.Logger("dswallet")

	// dsPrefix is the prefix for identities.
	// Structure: /identities/<id> -> identity.Credential.
	dsPrefix = ds.NewKey("/identities")
)

// Wallet is an identity.Store backed by a datastore.
type Wallet struct {
	store ds.Datastore
}

var _ identity.Store = (*Wallet)(nil)

// New returns a Wallet over the given datastore.
func New(store ds.Datastore) *Wallet {
	return &Wallet{store: store}
}

// Open returns a Wallet persisted with badger at path. The returned
// function closes the underlying datastore.
func Open(path string) (*Wallet, func() error, error) {
	store, err := badger.NewDatastore(path, &badger.DefaultOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("opening badger datastore at %s: %v", path, err)
	}
	return New(store), store.Close, nil
}

// Get implements identity.Store.
func (w *Wallet) Get(ctx context.Context, id string) (identity.Credential, error) {
	if id == "" {
		return identity.Credential{}, errors.New("identity id is empty")
	}
	val, err := w.store.Get(ctx, dsPrefix.ChildString(id))
	if errors.Is(err, ds.ErrNotFound) {
		return identity.Credential{}, identity.ErrIdentityNotFound
	} else if err != nil {
		return identity.Credential{}, fmt.Errorf("getting identity: %v", err)
	}
	var c identity.Credential
	if err := json.Unmarshal(val, &c); err != nil {
		return identity.Credential{}, fmt.Errorf("decoding identity: %v", err)
	}
	return c, nil
}

// Put implements identity.Store.
func (w *Wallet) Put(ctx context.Context, id string, c identity.Credential) error {
	if id == "" {
		return errors.New("identity id is empty")
	}
	if c.Type != identity.CredentialTypeX509 {
		return fmt.Errorf("unsupported credential type %q", c.Type)
	}
	val, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding identity: %v", err)
	}
	if err := w.store.Put(ctx, dsPrefix.ChildString(id), val); err != nil {
		return fmt.Errorf("putting identity: %v", err)
	}
	log.Debugf("stored identity %s of %s", id, c.MSPID)
	return nil
}

var _ identity.Lister = (*Wallet)(nil)

// List returns the ids of all stored identities.
func (w *Wallet) List(ctx context.Context) ([]string, error) {
	res, err := w.store.Query(ctx, dsq.Query{Prefix: dsPrefix.String(), KeysOnly: true})
	if err != nil {
		return nil, fmt.Errorf("querying identities: %v", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Errorf("closing query result: %s", err)
		}
	}()
	var ids []string
	for r := range res.Next() {
		if r.Error != nil {
			return nil, fmt.Errorf("iterating identities: %v", r.Error)
		}
		ids = append(ids, ds.RawKey(r.Key).BaseNamespace())
	}
	return ids, nil
}
