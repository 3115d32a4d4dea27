package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/cmd/auctionctl/app"
	"github.com/textileio/auction-ledger/cmd/auctionctl/schema"
	"github.com/textileio/auction-ledger/cmd/common"
	"github.com/textileio/auction-ledger/identity"
	"github.com/textileio/auction-ledger/identity/dswallet"
	"github.com/textileio/auction-ledger/identity/fabricca"
	"github.com/textileio/auction-ledger/ledger/connprofile"
	"github.com/textileio/auction-ledger/ledger/rpcledger"
	"github.com/textileio/cli"
)

var (
	cliName = "auctionctl"
	log     = logging.Logger(cliName)
	v       = viper.New()

	logSystems = []string{cliName, "orchestrator", "identity", "dswallet", "fabricca", "ledger", "rpcledger"}
)

func init() {
	flags := []cli.Flag{
		{Name: "orgs", DefValue: "org1=Org1MSP,org2=Org2MSP", Description: "Comma separated <org>=<mspId> pairs"},
		{
			Name:        "profile-path",
			DefValue:    "test-network/organizations/peerOrganizations/{org}.example.com/connection-{org}.json",
			Description: "Connection profile path; {org} is replaced by the organization name",
		},
		{Name: "wallet-path", DefValue: "wallet/{org}", Description: "Wallet path; {org} is replaced by the organization name"},
		{Name: "channel", DefValue: "mychannel", Description: "Channel name"},
		{Name: "contract", DefValue: "auction-chaincode", Description: "Contract name"},
		{Name: "admin-secret", DefValue: identity.DefaultAdminSecret, Description: "Enrollment secret of the CA admins"},
		{Name: "affiliation", DefValue: "{org}.department1", Description: "Affiliation of registered users"},
		{Name: "timeout", DefValue: "1m", Description: "Timeout of the whole operation"},
		{Name: "call-timeout", DefValue: "30s", Description: "Timeout of every gateway and CA call"},
		{Name: "tls-skip-verify", DefValue: false, Description: "Skip TLS verification of peers and CAs"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cli.ConfigureCLI(v, "AUCTION", flags, rootCmd.PersistentFlags())

	for _, s := range schema.Schemas {
		rootCmd.AddCommand(command(s))
	}
}

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "auctionctl drives sealed-bid auctions recorded on a permissioned ledger",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cli.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v, logSystems)
		cli.CheckErrf("setting log levels: %v", err)
	},
}

func command(s schema.Schema) *cobra.Command {
	return &cobra.Command{
		Use:   s.Use(),
		Short: s.Short,
		Args:  cobra.ArbitraryArgs,
		Run: func(c *cobra.Command, args []string) {
			orgs, err := parseOrgs(v)
			cli.CheckErrf("parsing orgs: %v", err)

			inv, err := s.Parse(orgs, args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s\n\n", err)
				_ = c.Usage()
				os.Exit(1)
			}

			a, err := app.New(app.Config{
				Orgs:        orgs,
				Channel:     v.GetString("channel"),
				Contract:    v.GetString("contract"),
				AdminSecret: v.GetString("admin-secret"),
				Affiliation: v.GetString("affiliation"),
			}, deps(v), os.Stdout)
			cli.CheckErr(err)

			ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("timeout"))
			defer cancel()
			if err := a.Run(ctx, inv); err != nil {
				log.Errorf("%s failed: %s", s.Op, err)
				cancel()
				os.Exit(1)
			}
		},
	}
}

func parseOrgs(v *viper.Viper) (map[string]auction.OrgID, error) {
	pairs, err := common.ParseMapping(v, "orgs")
	if err != nil {
		return nil, err
	}
	orgs := make(map[string]auction.OrgID, len(pairs))
	for name, msp := range pairs {
		orgs[strings.ToLower(name)] = auction.OrgID(msp)
	}
	return orgs, nil
}

func deps(v *viper.Viper) app.Deps {
	skipVerify := v.GetBool("tls-skip-verify")
	callTimeout := v.GetDuration("call-timeout")
	return app.Deps{
		Profile: func(org string) (connprofile.Profile, error) {
			return connprofile.Load(connprofile.PathFor(v.GetString("profile-path"), org))
		},
		Wallet: func(org string) (identity.Store, func() error, error) {
			path := connprofile.PathFor(v.GetString("wallet-path"), org)
			if err := os.MkdirAll(path, os.ModePerm); err != nil {
				return nil, nil, err
			}
			w, closeWallet, err := dswallet.Open(path)
			if err != nil {
				return nil, nil, err
			}
			return w, closeWallet, nil
		},
		CA: func(p connprofile.Profile, org string) (identity.CA, error) {
			ca, err := p.CA(org)
			if err != nil {
				return nil, err
			}
			return fabricca.New(fabricca.Config{
				URL:                ca.URL,
				CAName:             ca.CAName,
				TLSRootsPEM:        ca.TLSCACerts.Bytes(),
				InsecureSkipVerify: skipVerify || !ca.HTTPOptions.Verify,
				Timeout:            callTimeout,
			})
		},
		Opener: rpcledger.NewDialer(rpcledger.Config{Timeout: callTimeout, InsecureSkipVerify: skipVerify}),
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("loading .env: %s", err)
	}
	cli.CheckErr(rootCmd.Execute())
}
