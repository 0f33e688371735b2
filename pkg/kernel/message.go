package kernel

import "fmt"

// MessageType tags every message with its meaning. The set is closed;
// recipients ignore types they do not handle.
type MessageType string

// Message types
const (
	// order flow
	MsgLimitOrder  MessageType = "LIMIT_ORDER"
	MsgMarketOrder MessageType = "MARKET_ORDER"
	MsgCancelOrder MessageType = "CANCEL_ORDER"
	MsgModifyOrder MessageType = "MODIFY_ORDER"

	// execution reports
	MsgOrderAccepted  MessageType = "ORDER_ACCEPTED"
	MsgOrderCancelled MessageType = "ORDER_CANCELLED"
	MsgOrderExecuted  MessageType = "ORDER_EXECUTED"

	// market data
	MsgRequestMarketData MessageType = "REQUEST_MARKET_DATA"
	MsgMarketData        MessageType = "MARKET_DATA"

	// scheduling
	MsgWakeUp MessageType = "WAKE_UP"
)

// Message is the unit of communication between agents. Content is
// opaque to the kernel; the recipient asserts the concrete type it
// expects for the message type. The sequence id is assigned by the
// kernel at enqueue time and is used only to break timestamp ties.
type Message struct {
	Type    MessageType
	Content any

	seq uint64
}

// NewMessage creates a message of the given type
func NewMessage(msgType MessageType, content any) Message {
	return Message{Type: msgType, Content: content}
}

// Seq returns the creation-order id stamped by the kernel
func (m Message) Seq() uint64 {
	return m.seq
}

// String implements fmt.Stringer interface
func (m Message) String() string {
	return fmt.Sprintf("message %d: %s", m.seq, m.Type)
}
