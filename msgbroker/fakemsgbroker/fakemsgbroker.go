package fakemsgbroker

import (
	"context"
	"fmt"
	"sync"

	mbroker "github.com/textileio/auction-ledger/msgbroker"
)

// FakeMsgBroker is an in-memory message broker. Handlers are called
// synchronously on publish.
type FakeMsgBroker struct {
	lock          sync.Mutex
	topicMessages map[string][][]byte
	handlers      map[string][]mbroker.TopicHandler
	publishErr    error
}

var _ mbroker.MsgBroker = (*FakeMsgBroker)(nil)

// New returns a new FakeMsgBroker.
func New() *FakeMsgBroker {
	return &FakeMsgBroker{
		topicMessages: map[string][][]byte{},
		handlers:      map[string][]mbroker.TopicHandler{},
	}
}

// RegisterTopicHandler implements msgbroker.MsgBroker.
func (b *FakeMsgBroker) RegisterTopicHandler(
	topicName mbroker.TopicName,
	handler mbroker.TopicHandler,
	opts ...mbroker.Option) error {
	if _, err := mbroker.ApplyRegisterHandlerOptions(opts...); err != nil {
		return err
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.handlers[string(topicName)] = append(b.handlers[string(topicName)], handler)
	return nil
}

// PublishMsg implements msgbroker.MsgBroker.
func (b *FakeMsgBroker) PublishMsg(ctx context.Context, topicName mbroker.TopicName, data []byte) error {
	b.lock.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.lock.Unlock()
		return err
	}
	b.topicMessages[string(topicName)] = append(b.topicMessages[string(topicName)], data)
	handlers := append([]mbroker.TopicHandler(nil), b.handlers[string(topicName)]...)
	b.lock.Unlock()

	for _, h := range handlers {
		if err := h(ctx, data); err != nil {
			return fmt.Errorf("handler of %s: %s", topicName, err)
		}
	}
	return nil
}

// Helpers for tests

// FailPublish makes every following publication fail with err. A nil err restores
// normal behavior.
func (b *FakeMsgBroker) FailPublish(err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.publishErr = err
}

// TotalPublished returns the number of published messages.
func (b *FakeMsgBroker) TotalPublished() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	var count int
	for _, msgs := range b.topicMessages {
		count += len(msgs)
	}

	return count
}

// TotalPublishedTopic returns the number of messages published to a topic.
func (b *FakeMsgBroker) TotalPublishedTopic(name mbroker.TopicName) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.topicMessages[string(name)])
}

// GetMsg returns the idx-th message published to a topic.
func (b *FakeMsgBroker) GetMsg(name mbroker.TopicName, idx int) ([]byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	topic := b.topicMessages[string(name)]
	if idx >= len(topic) {
		return nil, fmt.Errorf("topic queue has length %d smaller than idx access %d", len(topic), idx)
	}

	return topic[idx], nil
}
