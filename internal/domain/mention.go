package domain

import (
	"sort"
	"strconv"
)

// Mention represents a public post that references the bot account.
// Immutable once fetched; locally only ID and Text drive processing.
type Mention struct {
	ID            string // decimal string, numerically ascending
	AuthorHandle  string // without leading "@"
	Text          string
	CreatedAt     int64  // Unix timestamp (ms)
	ReplyTargetID string // post ID replies should target (usually == ID)
}

// CompareMentionIDs compares two mention IDs numerically.
// Returns -1, 0, or 1. IDs that fail to parse compare lexicographically,
// so ordering stays total for malformed input.
func CompareMentionIDs(a, b string) int {
	ai, aerr := strconv.ParseUint(a, 10, 64)
	bi, berr := strconv.ParseUint(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortMentions sorts mentions ascending by numeric ID.
func SortMentions(mentions []*Mention) {
	sort.SliceStable(mentions, func(i, j int) bool {
		return CompareMentionIDs(mentions[i].ID, mentions[j].ID) < 0
	})
}
