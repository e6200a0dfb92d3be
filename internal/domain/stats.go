package domain

// Stats aggregates persisted counters.
type Stats struct {
	TotalMessages    int64 `json:"total_messages"`
	MessagesReceived int64 `json:"messages_received"`
	RepliesSent      int64 `json:"replies_sent"`
	Sessions         int64 `json:"sessions"`
}
