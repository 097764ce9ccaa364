// Package metrics defines the counters and gauges exported by the p2p-chat services.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// Metrics contains metrics exposed by the tracker, channel and peer services.
type Metrics struct {
	// Number of peers currently registered with the tracker.
	RegisteredPeers metrics.Gauge
	// Number of registrations dropped after missing heartbeats.
	ExpiredPeers metrics.Counter

	// Number of unresolved inbound connect requests.
	PendingRequests metrics.Gauge
	// Number of peers in the connected set.
	ConnectedPeers metrics.Gauge
	// Connect request resolutions, labelled by outcome (accepted, denied, conflict).
	Resolutions metrics.Counter

	// Channel store operations, labelled by op and result.
	ChannelOps metrics.Counter
	// Messages appended to channels.
	ChannelMessages metrics.Counter

	// Direct messages sent through the relay.
	DirectMessages metrics.Counter
	// Broadcasts started by this node.
	Broadcasts metrics.Counter
	// Broadcast copies that reached a remote peer.
	FanoutDeliveries metrics.Counter
	// Packets that could not be delivered after retries.
	SendFailures metrics.Counter
	// Packets received, labelled by action.
	PacketsReceived metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Each namespace may be registered once per process.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		RegisteredPeers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "registered_peers",
			Help:      "Number of peers registered with the tracker.",
		}, []string{}),
		ExpiredPeers: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "expired_peers",
			Help:      "Number of registrations dropped after missing heartbeats.",
		}, []string{}),
		PendingRequests: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "pending_requests",
			Help:      "Number of unresolved inbound connect requests.",
		}, []string{}),
		ConnectedPeers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "connected_peers",
			Help:      "Number of connected peers.",
		}, []string{}),
		Resolutions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "request_resolutions",
			Help:      "Connect request resolutions by outcome.",
		}, []string{"outcome"}),
		ChannelOps: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "ops",
			Help:      "Channel store operations by op and result.",
		}, []string{"op", "result"}),
		ChannelMessages: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "messages",
			Help:      "Messages appended to channels.",
		}, []string{}),
		DirectMessages: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "direct_messages",
			Help:      "Direct messages sent.",
		}, []string{}),
		Broadcasts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "broadcasts",
			Help:      "Broadcasts started by this node.",
		}, []string{}),
		FanoutDeliveries: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "fanout_deliveries",
			Help:      "Broadcast copies delivered to remote peers.",
		}, []string{}),
		SendFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "send_failures",
			Help:      "Packets not delivered after retries.",
		}, []string{}),
		PacketsReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "packets_received",
			Help:      "Packets received by action.",
		}, []string{"action"}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		RegisteredPeers:  discard.NewGauge(),
		ExpiredPeers:     discard.NewCounter(),
		PendingRequests:  discard.NewGauge(),
		ConnectedPeers:   discard.NewGauge(),
		Resolutions:      discard.NewCounter(),
		ChannelOps:       discard.NewCounter(),
		ChannelMessages:  discard.NewCounter(),
		DirectMessages:   discard.NewCounter(),
		Broadcasts:       discard.NewCounter(),
		FanoutDeliveries: discard.NewCounter(),
		SendFailures:     discard.NewCounter(),
		PacketsReceived:  discard.NewCounter(),
	}
}
