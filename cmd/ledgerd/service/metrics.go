package service

import (
	"context"
	"errors"
	"time"

	"github.com/textileio/auction-ledger/cmd/ledgerd/metrics"
	"github.com/textileio/auction-ledger/msgbroker"
	common "github.com/textileio/auction-ledger/metrics"
	"go.opentelemetry.io/otel/attribute"
)

var prefix = "ledgerd"

func (s *Service) initMetrics() {
	s.metricRequests = metrics.Meter.NewInt64Counter(prefix + ".rpc_requests_total")
	s.metricRequestDurationMillis = metrics.Meter.NewInt64Histogram(prefix + ".rpc_request_duration_millis")
	s.metricPublishedEvents = metrics.Meter.NewInt64Counter(prefix + ".published_events_total")
	s.metricCommittedTransactions = metrics.Meter.NewInt64Counter(prefix + ".committed_transactions_total")
	s.metricRejectedAuthentication = metrics.Meter.NewInt64Counter(prefix + ".rejected_authentications_total")
}

func functionAttr(fn string) attribute.KeyValue {
	return attribute.String("function", fn)
}

func (s *Service) observe(ctx context.Context, method, fn string, start time.Time, err error) {
	labels := []attribute.KeyValue{attribute.String("method", method), functionAttr(fn)}
	common.MetricIncrCounter(ctx, err, s.metricRequests, labels...)
	common.MetricRecordDuration(ctx, err, start, s.metricRequestDurationMillis, labels...)
}

func (s *Service) metricPublish(ctx context.Context, topic msgbroker.TopicName, err error) {
	common.MetricIncrCounter(ctx, err, s.metricPublishedEvents, attribute.String("topic", string(topic)))
}

func (s *Service) rejected(ctx context.Context, stage string, err error) {
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrBadSignature) {
		s.metricRejectedAuthentication.Add(ctx, 1, attribute.String("stage", stage))
	}
}
