package notify

// Event types recognized by the notifier filter. The config's notify.events
// list selects which of these reach the configured channels.
const (
	EventRebalanceCompleted = "rebalance_completed"
	EventRebalanceFailed    = "rebalance_failed"
	EventBreakerOpen        = "breaker_open"
	EventPositionClosed     = "position_closed"
	EventHedgeCreated       = "hedge_created"
)
