package domain

import "github.com/shopspring/decimal"

// Command verbs accepted by the parser.
const (
	VerbSend = "send"
	VerbPay  = "pay"
)

// Command is a payment instruction extracted from a mention's text.
// Derived data only; never persisted on its own.
type Command struct {
	Verb            string
	Amount          decimal.Decimal
	Token           string // symbol, upper case
	RecipientHandle string // without leading "@"
}
