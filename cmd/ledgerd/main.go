package main

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/channel"
	"github.com/textileio/auction-ledger/cmd/common"
	"github.com/textileio/auction-ledger/cmd/ledgerd/service"
	"github.com/textileio/auction-ledger/msgbroker"
	"github.com/textileio/auction-ledger/msgbroker/gpubsub"
	"github.com/textileio/cli"
	badger "github.com/textileio/go-ds-badger3"
)

var (
	daemonName = "ledgerd"
	log        = logging.Logger(daemonName)
	v          = viper.New()
)

func init() {
	flags := []cli.Flag{
		{Name: "rpc-addr", DefValue: ":7051", Description: "Gateway JSON-RPC listen address"},
		{Name: "datastore-path", DefValue: "", Description: "Badger datastore path; empty keeps the ledger in memory"},
		{Name: "channel", DefValue: "mychannel", Description: "Channel name"},
		{Name: "contract", DefValue: "auction-chaincode", Description: "Contract name"},
		{Name: "orgs", DefValue: "Org1MSP,Org2MSP", Description: "Comma separated MSP ids of the channel members"},
		{Name: "ca-roots", DefValue: "", Description: "Comma separated <mspId>=<pem path> pinning member CAs"},
		{Name: "token-secret", DefValue: "", Description: "Secret signing session tokens"},
		{Name: "token-ttl", DefValue: "1h", Description: "Session token lifetime"},
		{Name: "gpubsub-project-id", DefValue: "", Description: "Google PubSub project id"},
		{Name: "gpubsub-api-key", DefValue: "", Description: "Google PubSub API key"},
		{Name: "msgbroker-topic-prefix", DefValue: "", Description: "Topic prefix to use for msg broker topics"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cli.ConfigureCLI(v, "LEDGER", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "ledgerd is a development ledger hosting the sealed-bid auction contract for a set of organizations",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cli.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v, nil)
		cli.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := cli.MarshalConfig(v, !v.GetBool("log-json"), "token-secret", "gpubsub-api-key")
		cli.CheckErr(err)
		log.Infof("loaded config: %s", string(settings))

		if err := common.SetupInstrumentation(v.GetString("metrics-addr")); err != nil {
			log.Fatalf("booting instrumentation: %s", err)
		}

		store, closeStore, err := openDatastore(v.GetString("datastore-path"))
		cli.CheckErrf("opening datastore: %v", err)

		var orgs []auction.OrgID
		for _, o := range common.ParseStringSlice(v, "orgs") {
			orgs = append(orgs, auction.OrgID(o))
		}
		ch, err := channel.New(channel.Config{
			Name:     v.GetString("channel"),
			Contract: v.GetString("contract"),
			Orgs:     orgs,
		}, store)
		cli.CheckErrf("creating channel: %v", err)

		roots, err := loadCARoots(v)
		cli.CheckErrf("loading ca roots: %v", err)

		mb, closeMsgBroker, err := newMsgBroker(v)
		cli.CheckErrf("creating message broker: %v", err)

		secret := v.GetString("token-secret")
		if secret == "" {
			log.Fatal("--token-secret can't be empty")
		}
		svc, err := service.New(ch, mb, service.Config{
			TokenSecret: []byte(secret),
			TokenTTL:    v.GetDuration("token-ttl"),
			CARoots:     roots,
		})
		cli.CheckErrf("creating service: %v", err)

		server := &http.Server{Addr: v.GetString("rpc-addr"), Handler: svc.Handler()}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("serving gateway: %s", err)
			}
		}()
		log.Infof("gateway listening at %s", server.Addr)

		cli.HandleInterrupt(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Errorf("shutting down gateway: %s", err)
			}
			if err := svc.Close(); err != nil {
				log.Errorf("closing service: %s", err)
			}
			if err := closeMsgBroker(); err != nil {
				log.Errorf("closing message broker: %s", err)
			}
			if err := closeStore(); err != nil {
				log.Errorf("closing datastore: %s", err)
			}
		})
	},
}

func openDatastore(path string) (ds.Batching, func() error, error) {
	if path == "" {
		log.Warn("keeping the ledger in memory")
		return dssync.MutexWrap(ds.NewMapDatastore()), func() error { return nil }, nil
	}
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, nil, err
	}
	store, err := badger.NewDatastore(path, &badger.DefaultOptions)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func loadCARoots(v *viper.Viper) (map[auction.OrgID]*x509.CertPool, error) {
	paths, err := common.ParseMapping(v, "ca-roots")
	if err != nil {
		return nil, err
	}
	roots := make(map[auction.OrgID]*x509.CertPool, len(paths))
	for msp, path := range paths {
		pool, err := common.LoadCertPool(path)
		if err != nil {
			return nil, err
		}
		roots[auction.OrgID(msp)] = pool
	}
	return roots, nil
}

func newMsgBroker(v *viper.Viper) (msgbroker.MsgBroker, func() error, error) {
	projectID := v.GetString("gpubsub-project-id")
	if projectID == "" && os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		log.Warn("no message broker configured, ledger events won't be published")
		return nil, func() error { return nil }, nil
	}
	apiKey := v.GetString("gpubsub-api-key")
	topicPrefix := v.GetString("msgbroker-topic-prefix")
	mb, err := gpubsub.New(projectID, apiKey, topicPrefix, daemonName)
	if err != nil {
		return nil, nil, err
	}
	return mb, mb.Close, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("loading .env: %s", err)
	}
	cli.CheckErr(rootCmd.Execute())
}
