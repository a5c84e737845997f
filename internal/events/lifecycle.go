package events

// SubscriptionStateChanged is emitted on every bridge state transition.
type SubscriptionStateChanged struct {
	Topic string
	From  string
	To    string
}

// SubscriptionFailed is emitted when a subscription could not be opened or
// cancelled.
type SubscriptionFailed struct {
	Topic string
	Op    string
	Err   error
}
