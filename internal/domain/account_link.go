package domain

// AccountLink maps a social handle to a ledger account.
// One handle maps to at most one account, created at most once.
type AccountLink struct {
	Handle          string // unique key, without leading "@"
	AccountID       string // base58-encoded ledger account ID
	CreatedAt       int64  // Unix timestamp (ms)
	AutoProvisioned bool   // true if the bot created the account
}
