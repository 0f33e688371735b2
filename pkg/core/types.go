package core

import (
	"fmt"

	"github.com/nikolaydubina/fpdecimal"
)

// Side represents buy or sell side of an order
type Side int

// Order sides
const (
	Sell Side = iota
	Buy
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side of the book
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Kind is the closed set of order variants the book accepts
type Kind int

// Order kinds
const (
	KindLimit Kind = iota
	KindMarket
)

// String returns kind as string
func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "LIMIT"
	case KindMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// FilledOrder is one leg of an executed match, addressed to the agent
// whose order traded. Fee is signed: positive for a maker rebate,
// negative for a taker fee.
type FilledOrder struct {
	AgentID  string
	OrderID  uint64
	Symbol   string
	Quantity int64
	Side     Side
	Price    int64
	Fee      fpdecimal.Decimal
}

// Notional returns price*quantity of the fill as a decimal
func (f FilledOrder) Notional() fpdecimal.Decimal {
	return fpdecimal.FromInt(f.Quantity * f.Price)
}

// String implements fmt.Stringer interface
func (f FilledOrder) String() string {
	return fmt.Sprintf("%s %d %s @ %d (fee %s)", f.Side, f.Quantity, f.Symbol, f.Price, f.Fee.String())
}

// FillReporter receives both legs of every match from the order book.
// The exchange agent that owns the book implements it and forwards the
// legs to the trading agents involved.
type FillReporter interface {
	ReportFill(fill FilledOrder)
}
