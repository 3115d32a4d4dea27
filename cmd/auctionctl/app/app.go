package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/cmd/auctionctl/schema"
	"github.com/textileio/auction-ledger/identity"
	"github.com/textileio/auction-ledger/ledger"
	"github.com/textileio/auction-ledger/ledger/connprofile"
	"github.com/textileio/auction-ledger/orchestrator"
)

var log = logging.Logger("auctionctl")

// Config is the app config.
type Config struct {
	// Orgs maps lower-case organization names to MSP ids.
	Orgs     map[string]auction.OrgID
	Channel  string
	Contract string
	// AdminSecret is the enrollment secret of the CA admins.
	AdminSecret string
	// Affiliation of registered users. The {org} placeholder is replaced by the
	// organization name.
	Affiliation string
}

// Validate checks the config.
func (c Config) Validate() error {
	if len(c.Orgs) == 0 {
		return errors.New("organizations are empty")
	}
	for name, msp := range c.Orgs {
		if name == "" || name != strings.ToLower(name) {
			return fmt.Errorf("organization name %q must be non-empty and lower-case", name)
		}
		if msp == "" {
			return fmt.Errorf("organization %s has an empty msp id", name)
		}
	}
	if c.Channel == "" {
		return errors.New("channel is empty")
	}
	if c.Contract == "" {
		return errors.New("contract is empty")
	}
	if c.AdminSecret == "" {
		return errors.New("admin secret is empty")
	}
	return nil
}

// Deps comprises the app dependencies. Every function receives the lower-case
// organization name.
type Deps struct {
	Profile func(org string) (connprofile.Profile, error)
	// Wallet returns the identity store of the organization and a function closing it.
	Wallet func(org string) (identity.Store, func() error, error)
	CA     func(p connprofile.Profile, org string) (identity.CA, error)
	Opener ledger.Opener
}

// App runs validated invocations.
type App struct {
	conf Config
	deps Deps
	out  io.Writer
}

// New returns a new App writing results to out.
func New(conf Config, deps Deps, out io.Writer) (*App, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	if deps.Profile == nil || deps.Wallet == nil || deps.CA == nil || deps.Opener == nil {
		return nil, errors.New("dependencies are incomplete")
	}
	if conf.Affiliation == "" {
		conf.Affiliation = connprofile.OrgPlaceholder + ".department1"
	}
	return &App{conf: conf, deps: deps, out: out}, nil
}

// Run executes the invocation. Failures are tagged with an auction.Kind.
func (a *App) Run(ctx context.Context, inv schema.Invocation) error {
	store, closeStore, err := a.deps.Wallet(inv.Org)
	if err != nil {
		return auction.NewError(kindOf(inv.Op), string(inv.Op), fmt.Errorf("opening wallet: %v", err))
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			log.Errorf("closing wallet: %s", cerr)
		}
	}()

	profile, err := a.deps.Profile(inv.Org)
	if err != nil {
		return auction.NewError(kindOf(inv.Op), string(inv.Op), fmt.Errorf("loading connection profile: %v", err))
	}

	switch inv.Op {
	case schema.OpEnrollAdmin, schema.OpRegisterUser:
		return a.enroll(ctx, inv, profile, store)
	}

	cred, err := store.Get(ctx, inv.UserID)
	if errors.Is(err, identity.ErrIdentityNotFound) {
		return auction.NewError(auction.KindConnection, string(inv.Op),
			fmt.Errorf("an identity for the user %s doesn't exist in the wallet of %s, register it first%s",
				inv.UserID, inv.Org, a.walletContents(ctx, store)))
	} else if err != nil {
		return auction.NewError(auction.KindConnection, string(inv.Op), fmt.Errorf("getting credential: %v", err))
	}

	params := ledger.Params{
		Profile:    profile,
		Org:        inv.Org,
		Credential: cred,
		Channel:    a.conf.Channel,
		Contract:   a.conf.Contract,
	}
	return ledger.WithSession(ctx, a.deps.Opener, params, func(s ledger.Session) error {
		o, err := orchestrator.New(s, orchestrator.Config{MSPID: inv.MSPID})
		if err != nil {
			return auction.NewError(auction.KindConnection, string(inv.Op), err)
		}
		return a.dispatch(ctx, o, inv)
	})
}

func (a *App) enroll(ctx context.Context, inv schema.Invocation, p connprofile.Profile, store identity.Store) error {
	ca, err := a.deps.CA(p, inv.Org)
	if err != nil {
		return auction.NewError(auction.KindEnrollment, string(inv.Op), fmt.Errorf("building ca client: %v", err))
	}
	if inv.Op == schema.OpEnrollAdmin {
		if err := identity.EnrollAdmin(ctx, ca, store, inv.MSPID, a.conf.AdminSecret); err != nil {
			return err
		}
		a.printf("admin of %s is enrolled\n", inv.Org)
		return nil
	}
	affiliation := connprofile.PathFor(a.conf.Affiliation, inv.Org)
	if err := identity.RegisterAndEnrollUser(ctx, ca, store, inv.MSPID, inv.UserID, affiliation); err != nil {
		return err
	}
	a.printf("user %s of %s is enrolled\n", inv.UserID, inv.Org)
	return nil
}

func (a *App) dispatch(ctx context.Context, o *orchestrator.Orchestrator, inv schema.Invocation) error {
	var (
		r   orchestrator.Receipt
		err error
	)
	switch inv.Op {
	case schema.OpCreateAuction:
		r, err = o.CreateAuction(ctx, inv.AuctionID, inv.Item)
	case schema.OpCreateBid:
		r, err = o.CreateBid(ctx, inv.AuctionID, inv.Price)
	case schema.OpSubmitBid:
		r, err = o.SubmitBid(ctx, inv.AuctionID, inv.BidID)
	case schema.OpRevealBid:
		r, err = o.RevealBid(ctx, inv.AuctionID, inv.BidID)
	case schema.OpEndAuction:
		r, err = o.EndAuction(ctx, inv.AuctionID)
	case schema.OpQueryAuction:
		au, err := o.QueryAuction(ctx, inv.AuctionID)
		if err != nil {
			return err
		}
		return a.printJSON("auction", au)
	case schema.OpQueryBid:
		bid, err := o.QueryBid(ctx, inv.AuctionID, inv.BidID)
		if err != nil {
			return err
		}
		return a.printJSON("bid", bid)
	default:
		return auction.ArgumentError(string(inv.Op), "unknown operation")
	}
	if err != nil {
		return err
	}

	a.printf("committed transaction %s\n", r.TxID)
	if r.BidID != "" {
		a.printf("bid id (save this value): %s\n", r.BidID)
	}
	if r.ConfirmErr != nil {
		log.Warnf("reading back the result of transaction %s: %s", r.TxID, r.ConfirmErr)
		return nil
	}
	if r.Bid != nil {
		return a.printJSON("bid", r.Bid)
	}
	if r.Auction != nil {
		return a.printJSON("auction", r.Auction)
	}
	return nil
}

// walletContents describes the identities of a store that can list them.
func (a *App) walletContents(ctx context.Context, store identity.Store) string {
	l, ok := store.(identity.Lister)
	if !ok {
		return ""
	}
	ids, err := l.List(ctx)
	if err != nil {
		log.Warnf("listing wallet identities: %s", err)
		return ""
	}
	if len(ids) == 0 {
		return " (the wallet is empty)"
	}
	sort.Strings(ids)
	return fmt.Sprintf(" (the wallet holds %s)", strings.Join(ids, ", "))
}

func (a *App) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func (a *App) printJSON(name string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %v", name, err)
	}
	a.printf("%s: %s\n", name, b)
	return nil
}

func kindOf(op schema.Op) auction.Kind {
	if op == schema.OpEnrollAdmin || op == schema.OpRegisterUser {
		return auction.KindEnrollment
	}
	return auction.KindConnection
}
