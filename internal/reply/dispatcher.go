// Package reply turns pipeline outcomes into posted replies. Reply failures
// never fail the mention: the money already moved (or didn't), and a lost
// reply is recoverable noise while a double payout is not.
package reply

import (
	"context"
	"fmt"
	"log"

	"tipbot/internal/command"
	"tipbot/internal/domain"
	"tipbot/internal/observability"
	"tipbot/internal/social"
)

// Dispatcher posts outcome replies through a ReplyPoster.
type Dispatcher struct {
	poster  social.ReplyPoster
	metrics *observability.Metrics
	logger  *log.Logger
}

// New creates a Dispatcher. metrics may be nil.
func New(poster social.ReplyPoster, metrics *observability.Metrics, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{poster: poster, metrics: metrics, logger: logger}
}

// FormatOutcome renders the reply text for a transfer record.
func FormatOutcome(author string, rec *domain.TransferRecord) string {
	switch rec.Status {
	case domain.TransferStatusSuccess:
		return fmt.Sprintf("@%s sent %s %s to @%s. Transaction: %s",
			author, rec.Amount.String(), rec.Token, rec.RecipientHandle, rec.TxID)
	case domain.TransferStatusFailed:
		switch rec.FailReason {
		case domain.FailReasonInsufficientFunds:
			return fmt.Sprintf("@%s sorry, your balance is too low to send %s %s.",
				author, rec.Amount.String(), rec.Token)
		default:
			return fmt.Sprintf("@%s the ledger rejected this transfer. Nothing was sent.", author)
		}
	default:
		return fmt.Sprintf("@%s your transfer of %s %s to @%s is awaiting confirmation. We'll get it settled.",
			author, rec.Amount.String(), rec.Token, rec.RecipientHandle)
	}
}

// FormatParseFailure renders the help reply for an unparseable command.
func FormatParseFailure(author string, perr *command.ParseError) string {
	switch perr.Reason {
	case command.ReasonUnsupportedToken:
		return fmt.Sprintf("@%s that token isn't supported here. (%s)", author, perr.Detail)
	case command.ReasonAmountOutOfRange:
		return fmt.Sprintf("@%s that amount won't work: %s", author, perr.Detail)
	default:
		return fmt.Sprintf("@%s I couldn't read that. Try: send <amount> [token] to @recipient", author)
	}
}

// FormatResolutionFailure renders the reply when account setup failed.
func FormatResolutionFailure(author, handle string) string {
	return fmt.Sprintf("@%s couldn't set up an account for @%s right now. Please try again in a bit.",
		author, handle)
}

// Outcome replies with the result of an executed transfer.
func (d *Dispatcher) Outcome(ctx context.Context, m *domain.Mention, rec *domain.TransferRecord) {
	d.post(ctx, m, FormatOutcome(m.AuthorHandle, rec))
}

// ParseFailure replies with usage help for a command that failed to parse.
func (d *Dispatcher) ParseFailure(ctx context.Context, m *domain.Mention, perr *command.ParseError) {
	d.post(ctx, m, FormatParseFailure(m.AuthorHandle, perr))
}

// ResolutionFailure replies when a handle could not get a ledger account.
func (d *Dispatcher) ResolutionFailure(ctx context.Context, m *domain.Mention, handle string) {
	d.post(ctx, m, FormatResolutionFailure(m.AuthorHandle, handle))
}

func (d *Dispatcher) post(ctx context.Context, m *domain.Mention, text string) {
	targetID := m.ReplyTargetID
	if targetID == "" {
		targetID = m.ID
	}
	if err := d.poster.PostReply(ctx, targetID, text); err != nil {
		if d.metrics != nil {
			d.metrics.ReplyFailures.Inc()
		}
		d.logger.Printf("[reply] post to %s failed: %v", targetID, err)
		return
	}
	if d.metrics != nil {
		d.metrics.RepliesPosted.Inc()
	}
}
