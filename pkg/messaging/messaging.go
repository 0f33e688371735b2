package messaging

import "time"

// FillSender defines an interface for publishing executed fills to an
// external stream. This keeps the agent package decoupled from the
// concrete transport in the kafka package.
type FillSender interface {
	SendFill(fill *FillMessage) error
	Close() error
}

// FillMessage is the wire form of one fill leg. Decimal amounts travel
// as strings so consumers are not tied to our internal representation.
type FillMessage struct {
	RunID      string    `json:"runId"`
	Symbol     string    `json:"symbol"`
	AgentID    string    `json:"agentId"`
	OrderID    uint64    `json:"orderId"`
	Side       string    `json:"side"`
	Price      int64     `json:"price"`
	Quantity   int64     `json:"quantity"`
	Fee        string    `json:"fee"`
	ExecutedAt time.Time `json:"executedAt"`
}
