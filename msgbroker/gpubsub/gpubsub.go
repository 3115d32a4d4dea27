package gpubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/msgbroker"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"google.golang.org/api/option"
)

const emulatorProjectID = "test"

var log = golog.Logger("gpubsub")

// PubsubMsgBroker is a msgbroker.MsgBroker backed by Google Cloud Pub/Sub.
type PubsubMsgBroker struct {
	topicPrefix string
	subsName    string

	client          *pubsub.Client
	clientCtx       context.Context
	clientCtxCancel context.CancelFunc
	receivers       sync.WaitGroup

	topicCacheLock sync.Mutex
	topicCache     map[string]*pubsub.Topic

	metricPublished      metric.Int64Counter
	metricHandled        metric.Int64Counter
	metricHandleDuration metric.Int64Histogram
}

var _ msgbroker.MsgBroker = (*PubsubMsgBroker)(nil)

// New returns a new PubsubMsgBroker. If the PUBSUB_EMULATOR_HOST env var is set,
// the project id and api key can be empty and the emulator is used.
// Topics are prefixed with topicPrefix and subscriptions are named after subsName.
func New(projectID, apiKey, topicPrefix, subsName string) (*PubsubMsgBroker, error) {
	var opts []option.ClientOption
	if os.Getenv("PUBSUB_EMULATOR_HOST") != "" {
		if projectID == "" {
			projectID = emulatorProjectID
		}
	} else {
		if apiKey == "" {
			return nil, errors.New("api key is empty")
		}
		if projectID == "" {
			return nil, errors.New("project-id is empty")
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(apiKey)))
	}
	if subsName == "" {
		return nil, errors.New("subscription name is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pubsub client: %s", err)
	}

	p := &PubsubMsgBroker{
		topicPrefix:     topicPrefix,
		subsName:        subsName,
		client:          client,
		clientCtx:       ctx,
		clientCtxCancel: cancel,

		topicCache: map[string]*pubsub.Topic{},
	}
	p.initMetrics(metric.Must(global.Meter("gpubsub")))

	return p, nil
}

// RegisterTopicHandler implements msgbroker.MsgBroker. The subscription is created
// if it doesn't exist.
func (p *PubsubMsgBroker) RegisterTopicHandler(
	topicName msgbroker.TopicName,
	handler msgbroker.TopicHandler,
	opts ...msgbroker.Option) error {
	config, err := msgbroker.ApplyRegisterHandlerOptions(opts...)
	if err != nil {
		return fmt.Errorf("applying options: %s", err)
	}
	topic, err := p.getTopic(string(topicName))
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}

	subName := p.topicPrefix + p.subsName + "-" + string(topicName)
	sub := p.client.Subscription(subName)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("looking for subscription: %s", err)
	}
	if !exists {
		log.Warnf("creating subscription %s for topic %s", subName, topicName)
		config := pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: config.AckDeadline,
		}
		sub, err = p.client.CreateSubscription(ctx, subName, config)
		if err != nil {
			return fmt.Errorf("creating subscription: %s", err)
		}
	}

	p.receivers.Add(1)
	go func() {
		defer p.receivers.Done()
		err := sub.Receive(p.clientCtx, func(ctx context.Context, m *pubsub.Message) {
			start := time.Now()
			err := handler(ctx, m.Data)
			p.onHandle(ctx, string(topicName), start, err)
			if err != nil {
				log.Errorf("handling message %s of topic %s: %s", m.ID, topicName, err)
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil {
			log.Errorf("receive handler subscription %s, topic %s: %s", subName, topicName, err)
		}
	}()

	log.Debugf("registered handler for %s:%s", subName, topicName)
	return nil
}

// PublishMsg implements msgbroker.MsgBroker.
func (p *PubsubMsgBroker) PublishMsg(ctx context.Context, topicName msgbroker.TopicName, data []byte) (err error) {
	defer func() { p.onPublish(ctx, string(topicName), err) }()

	topic, err := p.getTopic(string(topicName))
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}
	pr := topic.Publish(ctx, &pubsub.Message{Data: data})

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	id, err := pr.Get(ctx)
	if err != nil {
		return fmt.Errorf("publishing to pubsub: %s", err)
	}
	log.Debugf("published message %s to %s", id, topicName)

	return nil
}

func (p *PubsubMsgBroker) getTopic(name string) (*pubsub.Topic, error) {
	name = p.topicPrefix + name

	p.topicCacheLock.Lock()
	defer p.topicCacheLock.Unlock()
	topic, ok := p.topicCache[name]
	if ok {
		return topic, nil
	}

	topic = p.client.Topic(name)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	exist, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic exists: %s", err)
	}
	if !exist {
		log.Warnf("creating topic %s", name)

		topic, err = p.client.CreateTopic(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %s", name, err)
		}
	}
	p.topicCache[name] = topic

	return topic, nil
}

// Close stops receiving messages, flushes pending publications and closes the client.
func (p *PubsubMsgBroker) Close() error {
	p.clientCtxCancel()
	p.receivers.Wait()

	p.topicCacheLock.Lock()
	for _, t := range p.topicCache {
		t.Stop()
	}
	p.topicCacheLock.Unlock()

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("closing pubsub client: %s", err)
	}
	return nil
}
