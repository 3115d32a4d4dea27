package msgbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// TopicHandler is function that processes a received message.
// If no error is returned, the message will be automatically acked.
// If an error is returned, the message will be automatically nacked.
type TopicHandler func(context.Context, []byte) error

// MsgBroker is a message-broker for async message communication.
type MsgBroker interface {
	// RegisterTopicHandler registers a handler to a topic, with a defined
	// subscription defined by the underlying implementation. Is highly recommended
	// to register handlers in a type-safe way using RegisterHandlers().
	RegisterTopicHandler(topic TopicName, handler TopicHandler, opts ...Option) error

	// PublishMsg publishes a message to the desired topic.
	PublishMsg(ctx context.Context, topicName TopicName, data []byte) error
}

// TopicName is a topic name.
type TopicName string

const (
	// AuctionCreatedTopic is the topic name for auction-created messages.
	AuctionCreatedTopic TopicName = "auction-created"
	// BidSubmittedTopic is the topic name for bid-submitted messages.
	BidSubmittedTopic TopicName = "bid-submitted"
	// BidRevealedTopic is the topic name for bid-revealed messages.
	BidRevealedTopic TopicName = "bid-revealed"
	// AuctionClosedTopic is the topic name for auction-closed messages.
	AuctionClosedTopic TopicName = "auction-closed"
)

// Topics returns every ledger event topic.
func Topics() []TopicName {
	return []TopicName{AuctionCreatedTopic, BidSubmittedTopic, BidRevealedTopic, AuctionClosedTopic}
}

// AuctionCreatedListener is a handler for auction-created topic.
type AuctionCreatedListener interface {
	OnAuctionCreated(context.Context, LedgerEvent) error
}

// BidSubmittedListener is a handler for bid-submitted topic.
type BidSubmittedListener interface {
	OnBidSubmitted(context.Context, LedgerEvent) error
}

// BidRevealedListener is a handler for bid-revealed topic.
type BidRevealedListener interface {
	OnBidRevealed(context.Context, LedgerEvent) error
}

// AuctionClosedListener is a handler for auction-closed topic.
type AuctionClosedListener interface {
	OnAuctionClosed(context.Context, LedgerEvent) error
}

// RegisterHandlers automatically calls mb.RegisterTopicHandler in the methods that
// s might satisfy on known XXXListener interfaces. This allows to automatically wire
// s to receive messages from topics of implemented handlers.
func RegisterHandlers(mb MsgBroker, s interface{}, opts ...Option) error {
	var countRegistered int
	if l, ok := s.(AuctionCreatedListener); ok {
		countRegistered++
		if err := register(mb, AuctionCreatedTopic, l.OnAuctionCreated, opts...); err != nil {
			return err
		}
	}
	if l, ok := s.(BidSubmittedListener); ok {
		countRegistered++
		if err := register(mb, BidSubmittedTopic, l.OnBidSubmitted, opts...); err != nil {
			return err
		}
	}
	if l, ok := s.(BidRevealedListener); ok {
		countRegistered++
		if err := register(mb, BidRevealedTopic, l.OnBidRevealed, opts...); err != nil {
			return err
		}
	}
	if l, ok := s.(AuctionClosedListener); ok {
		countRegistered++
		if err := register(mb, AuctionClosedTopic, l.OnAuctionClosed, opts...); err != nil {
			return err
		}
	}

	if countRegistered == 0 {
		return errors.New("no handlers were registered")
	}
	return nil
}

func register(
	mb MsgBroker,
	topic TopicName,
	handler func(context.Context, LedgerEvent) error,
	opts ...Option) error {
	err := mb.RegisterTopicHandler(topic, func(ctx context.Context, data []byte) error {
		var e LedgerEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("unmarshal %s: %s", topic, err)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid %s event: %s", topic, err)
		}
		if err := handler(ctx, e); err != nil {
			return fmt.Errorf("calling %s handler: %s", topic, err)
		}
		return nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("registering handler for %s topic: %s", topic, err)
	}
	return nil
}
