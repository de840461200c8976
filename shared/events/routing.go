package events

import "strings"

// Channel names are part of the wire contract: unmodified producers and
// consumers depend on this exact mapping.
const (
	ErrorChannel      = "error-events"
	MonitoringChannel = "monitoring-events"

	OrderCommandsChannel     = "orders-commands"
	PaymentCommandsChannel   = "payments-commands"
	EmailCommandsChannel     = "emails-commands"
	AnalyticsCommandsChannel = "analytics-commands"

	OrderEventsChannel     = "orders-events"
	PaymentEventsChannel   = "payments-events"
	EmailEventsChannel     = "emails-events"
	AnalyticsEventsChannel = "analytics-events"

	// Fallback channel for cross-domain event types
	BusinessChannel = "business-events"
)

// commandSuffixes lexically classify an event type as a command
var commandSuffixes = []string{
	".create", ".update", ".confirm", ".cancel", ".process",
	".refund", ".capture", ".send", ".schedule", ".collect", ".export",
}

// IsCommand reports whether the event type expresses intent rather than fact
func IsCommand(eventType string) bool {
	for _, suffix := range commandSuffixes {
		if strings.HasSuffix(eventType, suffix) {
			return true
		}
	}
	return false
}

// ChannelFor maps an event type to the channel that owns it. The mapping is
// a pure function of the domain prefix plus command/event classification:
// commands land on the owning service's command channel, facts on the
// domain's event channel, error.* and monitoring.* on dedicated operational
// channels, and anything unrecognized on the shared cross-domain channel.
func ChannelFor(eventType string) string {
	if strings.HasPrefix(eventType, "error.") {
		return ErrorChannel
	}
	if strings.HasPrefix(eventType, "monitoring.") {
		return MonitoringChannel
	}

	if IsCommand(eventType) {
		switch {
		case strings.HasPrefix(eventType, "order."):
			return OrderCommandsChannel
		case strings.HasPrefix(eventType, "payment."):
			return PaymentCommandsChannel
		case strings.HasPrefix(eventType, "email."):
			return EmailCommandsChannel
		case strings.HasPrefix(eventType, "analytics."):
			return AnalyticsCommandsChannel
		}
	}

	switch {
	case strings.HasPrefix(eventType, "order."):
		return OrderEventsChannel
	case strings.HasPrefix(eventType, "payment."):
		return PaymentEventsChannel
	case strings.HasPrefix(eventType, "email."):
		return EmailEventsChannel
	case strings.HasPrefix(eventType, "analytics."):
		return AnalyticsEventsChannel
	}

	return BusinessChannel
}

// Channels returns every channel the routing function can produce, useful
// for transports that pre-provision topics or queues.
func Channels() []string {
	return []string{
		ErrorChannel,
		MonitoringChannel,
		OrderCommandsChannel,
		PaymentCommandsChannel,
		EmailCommandsChannel,
		AnalyticsCommandsChannel,
		OrderEventsChannel,
		PaymentEventsChannel,
		EmailEventsChannel,
		AnalyticsEventsChannel,
		BusinessChannel,
	}
}
