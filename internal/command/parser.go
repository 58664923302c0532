// Package command parses mention text into payment commands.
// Parsing is pure and total: every input yields either a Command or a
// typed ParseError, never a panic, so one malformed post cannot abort
// a batch.
package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"tipbot/internal/domain"
)

// ParseReason classifies why a mention failed to parse.
type ParseReason string

const (
	ReasonInvalidSyntax    ParseReason = "INVALID_SYNTAX"
	ReasonUnsupportedToken ParseReason = "UNSUPPORTED_TOKEN"
	ReasonAmountOutOfRange ParseReason = "AMOUNT_OUT_OF_RANGE"
)

// ParseError is the typed result for unparsable mention text.
type ParseError struct {
	Reason ParseReason
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %s", e.Reason, e.Detail)
}

// handleRe matches a social handle after the leading "@" is stripped.
var handleRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// symbolRe matches a plausible token symbol.
var symbolRe = regexp.MustCompile(`^[A-Za-z]{2,10}$`)

// Config controls the accepted grammar.
type Config struct {
	// TriggerHandle is the bot's own handle (without "@"). The command is
	// read from the tokens following the trigger mention.
	TriggerHandle string

	// NativeToken is the symbol assumed when the command omits one.
	NativeToken string

	// TokenDecimals maps supported symbols to their maximum precision.
	TokenDecimals map[string]int32

	// MaxAmount is the largest amount accepted per command.
	MaxAmount decimal.Decimal
}

// DefaultConfig returns the default grammar configuration.
func DefaultConfig() Config {
	return Config{
		TriggerHandle: "tipbot",
		NativeToken:   "TIP",
		TokenDecimals: map[string]int32{"TIP": 8},
		MaxAmount:     decimal.NewFromInt(1_000_000),
	}
}

// Parser converts mention text into commands.
type Parser struct {
	cfg Config
}

// New creates a parser. Zero-value config fields fall back to defaults.
func New(cfg Config) *Parser {
	def := DefaultConfig()
	if cfg.TriggerHandle == "" {
		cfg.TriggerHandle = def.TriggerHandle
	}
	if cfg.NativeToken == "" {
		cfg.NativeToken = def.NativeToken
	}
	if cfg.TokenDecimals == nil {
		cfg.TokenDecimals = def.TokenDecimals
	}
	if cfg.MaxAmount.IsZero() {
		cfg.MaxAmount = def.MaxAmount
	}
	return &Parser{cfg: cfg}
}

// Parse extracts a payment command from mention text.
// Grammar: ... @<trigger> <send|pay> <amount> [symbol] [to] @<recipient> ...
// Verb and symbol are case-insensitive. Trailing chatter after the
// recipient is ignored.
func (p *Parser) Parse(text string) (*domain.Command, error) {
	fields := strings.Fields(text)

	// Locate the trigger mention; the command follows it.
	idx := -1
	trigger := "@" + strings.ToLower(p.cfg.TriggerHandle)
	for i, f := range fields {
		if strings.ToLower(trimPunct(f)) == trigger {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &ParseError{Reason: ReasonInvalidSyntax, Detail: "missing bot mention"}
	}

	rest := fields[idx+1:]
	if len(rest) < 2 {
		return nil, &ParseError{Reason: ReasonInvalidSyntax, Detail: "expected: send <amount> [token] to @recipient"}
	}

	verb := strings.ToLower(trimPunct(rest[0]))
	if verb != domain.VerbSend && verb != domain.VerbPay {
		return nil, &ParseError{Reason: ReasonInvalidSyntax, Detail: fmt.Sprintf("unknown verb %q", rest[0])}
	}

	amount, err := decimal.NewFromString(trimPunct(rest[1]))
	if err != nil {
		return nil, &ParseError{Reason: ReasonInvalidSyntax, Detail: fmt.Sprintf("amount %q is not a number", rest[1])}
	}

	// Optional token symbol, optional "to", then the recipient.
	token := p.cfg.NativeToken
	pos := 2
	if pos < len(rest) {
		word := trimPunct(rest[pos])
		if !strings.HasPrefix(word, "@") && !strings.EqualFold(word, "to") {
			if !symbolRe.MatchString(word) {
				return nil, &ParseError{Reason: ReasonInvalidSyntax, Detail: fmt.Sprintf("unexpected token %q", rest[pos])}
			}
			token = strings.ToUpper(word)
			pos++
		}
	}
	if pos < len(rest) && strings.EqualFold(trimPunct(rest[pos]), "to") {
		pos++
	}

	decimals, ok := p.cfg.TokenDecimals[token]
	if !ok {
		return nil, &ParseError{Reason: ReasonUnsupportedToken, Detail: fmt.Sprintf("token %s is not supported", token)}
	}

	if !amount.IsPositive() {
		return nil, &ParseError{Reason: ReasonAmountOutOfRange, Detail: "amount must be positive"}
	}
	// Compare against the truncated value rather than the literal's
	// exponent: "5.100000000" is within 8-decimal precision.
	if !amount.Equal(amount.Truncate(decimals)) {
		return nil, &ParseError{Reason: ReasonAmountOutOfRange, Detail: fmt.Sprintf("%s supports at most %d decimal places", token, decimals)}
	}
	if amount.GreaterThan(p.cfg.MaxAmount) {
		return nil, &ParseError{Reason: ReasonAmountOutOfRange, Detail: fmt.Sprintf("amount exceeds maximum %s", p.cfg.MaxAmount)}
	}

	if pos >= len(rest) {
		return nil, &ParseError{Reason: ReasonInvalidSyntax, Detail: "missing recipient handle"}
	}
	recipient := trimPunct(rest[pos])
	if !strings.HasPrefix(recipient, "@") {
		return nil, &ParseError{Reason: ReasonInvalidSyntax, Detail: fmt.Sprintf("recipient %q must be an @handle", rest[pos])}
	}
	recipient = strings.TrimPrefix(recipient, "@")
	if !handleRe.MatchString(recipient) {
		return nil, &ParseError{Reason: ReasonInvalidSyntax, Detail: fmt.Sprintf("invalid recipient handle %q", rest[pos])}
	}

	return &domain.Command{
		Verb:            verb,
		Amount:          amount,
		Token:           token,
		RecipientHandle: recipient,
	}, nil
}

// trimPunct strips trailing sentence punctuation people attach to words.
func trimPunct(s string) string {
	return strings.TrimRight(s, ".,!?:;")
}
