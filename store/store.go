package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/ledger"
)

var (
	log = golog.Logger("store")

	// ErrTxNotFound indicates the requested transaction was not found.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrDuplicateTx indicates a transaction with the same id was already committed.
	ErrDuplicateTx = errors.New("duplicate transaction id")

	// statePrefix is the prefix for public world state.
	// Structure: /state/<key> -> bytes.
	statePrefix = ds.NewKey("/state")

	// privatePrefix is the prefix for organization private partitions.
	// Structure: /private/<org>/<key> -> bytes.
	privatePrefix = ds.NewKey("/private")

	// txPrefix is the prefix for committed transactions.
	// Structure: /txs/<tx_id> -> TxRecord.
	txPrefix = ds.NewKey("/txs")
)

// TxRecord is the public record of a committed transaction. It never holds
// transient data.
type TxRecord struct {
	ID        ledger.TxID     `json:"id"`
	Function  string          `json:"function"`
	Args      []string        `json:"args"`
	Creator   string          `json:"creator"`
	MSPID     auction.OrgID   `json:"mspId"`
	Endorsers []auction.OrgID `json:"endorsers"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store keeps the world state, private partitions and transaction records of a channel.
type Store struct {
	store ds.Batching

	// commitLk makes the duplicate check and the batch of a commit atomic.
	commitLk sync.Mutex
}

// New returns a new Store.
func New(store ds.Batching) *Store {
	return &Store{store: store}
}

// GetState returns the public value of key, or nil if it doesn't exist.
func (s *Store) GetState(ctx context.Context, key string) ([]byte, error) {
	return get(ctx, s.store, stateKey(key))
}

// GetPrivateData returns the value of key in org's private partition, or nil if it
// doesn't exist.
func (s *Store) GetPrivateData(ctx context.Context, org auction.OrgID, key string) ([]byte, error) {
	if org == "" {
		return nil, errors.New("organization is empty")
	}
	return get(ctx, s.store, privateKey(org, key))
}

// GetTx returns a committed transaction record.
func (s *Store) GetTx(ctx context.Context, id ledger.TxID) (TxRecord, error) {
	val, err := s.store.Get(ctx, txPrefix.ChildString(string(id)))
	if errors.Is(err, ds.ErrNotFound) {
		return TxRecord{}, ErrTxNotFound
	} else if err != nil {
		return TxRecord{}, fmt.Errorf("getting transaction: %v", err)
	}
	var r TxRecord
	if err := json.Unmarshal(val, &r); err != nil {
		return TxRecord{}, fmt.Errorf("decoding transaction: %v", err)
	}
	return r, nil
}

// HasTx returns true if a transaction with the id was committed.
func (s *Store) HasTx(ctx context.Context, id ledger.TxID) (bool, error) {
	ok, err := s.store.Has(ctx, txPrefix.ChildString(string(id)))
	if err != nil {
		return false, fmt.Errorf("checking transaction: %v", err)
	}
	return ok, nil
}

// ListTxs returns every committed transaction ordered by id.
func (s *Store) ListTxs(ctx context.Context) ([]TxRecord, error) {
	results, err := s.store.Query(ctx, dsq.Query{
		Prefix: txPrefix.String(),
		Orders: []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []TxRecord
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		var r TxRecord
		if err := json.Unmarshal(res.Value, &r); err != nil {
			return nil, fmt.Errorf("decoding value: %v", err)
		}
		list = append(list, r)
	}
	return list, nil
}

// Commit atomically applies the write set of a simulation along with its
// transaction record. It returns ErrDuplicateTx if the transaction id was already
// committed. Callers serialize commits that touch the same keys.
func (s *Store) Commit(ctx context.Context, rec TxRecord, sim *Simulation) error {
	if rec.ID == "" {
		return errors.New("transaction id is empty")
	}
	s.commitLk.Lock()
	defer s.commitLk.Unlock()

	exists, err := s.HasTx(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateTx
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	b, err := s.store.Batch(ctx)
	if err != nil {
		return fmt.Errorf("creating batch: %v", err)
	}
	for _, k := range sim.stateKeys() {
		if err := b.Put(ctx, stateKey(k), sim.state[k]); err != nil {
			return fmt.Errorf("putting state %s: %v", k, err)
		}
	}
	for _, pk := range sim.privateKeys() {
		if err := b.Put(ctx, privateKey(pk.org, pk.key), sim.private[pk]); err != nil {
			return fmt.Errorf("putting private data %s: %v", pk.key, err)
		}
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding transaction: %v", err)
	}
	if err := b.Put(ctx, txPrefix.ChildString(string(rec.ID)), val); err != nil {
		return fmt.Errorf("putting transaction: %v", err)
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %v", err)
	}

	log.Debugf("committed tx %s (%s) with %d state and %d private writes",
		rec.ID, rec.Function, len(sim.state), len(sim.private))
	return nil
}

type reader interface {
	GetState(ctx context.Context, key string) ([]byte, error)
	GetPrivateData(ctx context.Context, org auction.OrgID, key string) ([]byte, error)
}

type orgKey struct {
	org auction.OrgID
	key string
}

// Simulation runs a transaction against the store without changing it. Reads see
// the simulation's own writes. The accumulated write set is applied by Commit.
type Simulation struct {
	r       reader
	state   map[string][]byte
	private map[orgKey][]byte
}

// NewSimulation returns a simulation reading from the store.
func (s *Store) NewSimulation() *Simulation {
	return &Simulation{
		r:       s,
		state:   map[string][]byte{},
		private: map[orgKey][]byte{},
	}
}

// GetState returns the public value of key, or nil if it doesn't exist.
func (sim *Simulation) GetState(ctx context.Context, key string) ([]byte, error) {
	if v, ok := sim.state[key]; ok {
		return v, nil
	}
	return sim.r.GetState(ctx, key)
}

// PutState records a public write.
func (sim *Simulation) PutState(key string, val []byte) error {
	if key == "" {
		return errors.New("key is empty")
	}
	if len(val) == 0 {
		return errors.New("value is empty")
	}
	sim.state[key] = val
	return nil
}

// GetPrivateData returns the value of key in org's private partition, or nil if it
// doesn't exist.
func (sim *Simulation) GetPrivateData(ctx context.Context, org auction.OrgID, key string) ([]byte, error) {
	if v, ok := sim.private[orgKey{org: org, key: key}]; ok {
		return v, nil
	}
	return sim.r.GetPrivateData(ctx, org, key)
}

// PutPrivateData records a write to org's private partition.
func (sim *Simulation) PutPrivateData(org auction.OrgID, key string, val []byte) error {
	if org == "" {
		return errors.New("organization is empty")
	}
	if key == "" {
		return errors.New("key is empty")
	}
	if len(val) == 0 {
		return errors.New("value is empty")
	}
	sim.private[orgKey{org: org, key: key}] = val
	return nil
}

// Empty returns true if the simulation didn't write anything.
func (sim *Simulation) Empty() bool {
	return len(sim.state) == 0 && len(sim.private) == 0
}

func (sim *Simulation) stateKeys() []string {
	keys := make([]string, 0, len(sim.state))
	for k := range sim.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (sim *Simulation) privateKeys() []orgKey {
	keys := make([]orgKey, 0, len(sim.private))
	for k := range sim.private {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].org != keys[j].org {
			return keys[i].org < keys[j].org
		}
		return keys[i].key < keys[j].key
	})
	return keys
}

func get(ctx context.Context, r ds.Read, key ds.Key) ([]byte, error) {
	val, err := r.Get(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("getting %s: %v", key, err)
	}
	return val, nil
}

func stateKey(key string) ds.Key {
	return statePrefix.Child(ds.NewKey(key))
}

func privateKey(org auction.OrgID, key string) ds.Key {
	return privatePrefix.ChildString(string(org)).Child(ds.NewKey(key))
}
