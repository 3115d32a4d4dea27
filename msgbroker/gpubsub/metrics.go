package gpubsub

import (
	"context"
	"time"

	"github.com/textileio/auction-ledger/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const prefix = "gpubsub"

func topicAttr(topicName string) attribute.KeyValue {
	return attribute.String("topic", topicName)
}

func (p *PubsubMsgBroker) initMetrics(meter metric.MeterMust) {
	p.metricPublished = meter.NewInt64Counter(prefix + "_published_messages_total")
	p.metricHandled = meter.NewInt64Counter(prefix + "_handled_messages_total")
	p.metricHandleDuration = meter.NewInt64Histogram(prefix + "_handle_message_duration_millis")
}

func (p *PubsubMsgBroker) onPublish(ctx context.Context, topicName string, err error) {
	metrics.MetricIncrCounter(ctx, err, p.metricPublished, topicAttr(topicName))
}

func (p *PubsubMsgBroker) onHandle(ctx context.Context, topicName string, start time.Time, err error) {
	metrics.MetricIncrCounter(ctx, err, p.metricHandled, topicAttr(topicName))
	metrics.MetricRecordDuration(ctx, err, start, p.metricHandleDuration, topicAttr(topicName))
}
