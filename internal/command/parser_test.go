package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ValidCommands(t *testing.T) {
	p := New(DefaultConfig())

	tests := []struct {
		name          string
		text          string
		wantVerb      string
		wantAmount    string
		wantToken     string
		wantRecipient string
	}{
		{
			name:          "canonical send",
			text:          "@tipbot send 5 TIP to @alice",
			wantVerb:      "send",
			wantAmount:    "5",
			wantToken:     "TIP",
			wantRecipient: "alice",
		},
		{
			name:          "pay verb",
			text:          "@tipbot pay 10 to @bob",
			wantVerb:      "pay",
			wantAmount:    "10",
			wantToken:     "TIP",
			wantRecipient: "bob",
		},
		{
			name:          "token omitted defaults to native",
			text:          "@tipbot send 0.5 @carol",
			wantVerb:      "send",
			wantAmount:    "0.5",
			wantToken:     "TIP",
			wantRecipient: "carol",
		},
		{
			name:          "leading chatter before trigger",
			text:          "hey everyone look at this @tipbot send 2.25 TIP to @dave",
			wantVerb:      "send",
			wantAmount:    "2.25",
			wantToken:     "TIP",
			wantRecipient: "dave",
		},
		{
			name:          "trailing chatter after recipient",
			text:          "@tipbot send 1 TIP to @erin, thanks for the help!",
			wantVerb:      "send",
			wantAmount:    "1",
			wantToken:     "TIP",
			wantRecipient: "erin",
		},
		{
			name:          "case insensitive verb and symbol",
			text:          "@TipBot SEND 3 tip TO @frank",
			wantVerb:      "send",
			wantAmount:    "3",
			wantToken:     "TIP",
			wantRecipient: "frank",
		},
		{
			name:          "max precision accepted",
			text:          "@tipbot send 0.00000001 TIP to @grace",
			wantVerb:      "send",
			wantAmount:    "0.00000001",
			wantToken:     "TIP",
			wantRecipient: "grace",
		},
		{
			name:          "trailing zeros within precision",
			text:          "@tipbot send 5.100000000 TIP to @heidi",
			wantVerb:      "send",
			wantAmount:    "5.1",
			wantToken:     "TIP",
			wantRecipient: "heidi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := p.Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantVerb, cmd.Verb)
			assert.True(t, cmd.Amount.Equal(decimal.RequireFromString(tt.wantAmount)),
				"amount = %s, want %s", cmd.Amount, tt.wantAmount)
			assert.Equal(t, tt.wantToken, cmd.Token)
			assert.Equal(t, tt.wantRecipient, cmd.RecipientHandle)
		})
	}
}

func TestParser_ParseErrors(t *testing.T) {
	p := New(DefaultConfig())

	tests := []struct {
		name       string
		text       string
		wantReason ParseReason
	}{
		{name: "no trigger", text: "send 5 TIP to @alice", wantReason: ReasonInvalidSyntax},
		{name: "no verb", text: "@tipbot pls send money", wantReason: ReasonInvalidSyntax},
		{name: "missing amount", text: "@tipbot send", wantReason: ReasonInvalidSyntax},
		{name: "non numeric amount", text: "@tipbot send five TIP to @alice", wantReason: ReasonInvalidSyntax},
		{name: "missing recipient", text: "@tipbot send 5 TIP to", wantReason: ReasonInvalidSyntax},
		{name: "recipient without at", text: "@tipbot send 5 TIP to alice", wantReason: ReasonInvalidSyntax},
		{name: "handle too long", text: "@tipbot send 5 TIP to @aaaaaaaaaaaaaaaaaaaaa", wantReason: ReasonInvalidSyntax},
		{name: "unknown token", text: "@tipbot send 5 DOGE to @alice", wantReason: ReasonUnsupportedToken},
		{name: "zero amount", text: "@tipbot send 0 TIP to @alice", wantReason: ReasonAmountOutOfRange},
		{name: "negative amount", text: "@tipbot send -5 TIP to @alice", wantReason: ReasonAmountOutOfRange},
		{name: "too many decimals", text: "@tipbot send 0.000000001 TIP to @alice", wantReason: ReasonAmountOutOfRange},
		{name: "over max amount", text: "@tipbot send 1000001 TIP to @alice", wantReason: ReasonAmountOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := p.Parse(tt.text)
			require.Error(t, err)
			assert.Nil(t, cmd)

			var perr *ParseError
			require.True(t, errors.As(err, &perr), "error should be *ParseError, got %T", err)
			assert.Equal(t, tt.wantReason, perr.Reason)
		})
	}
}

// TestParser_Totality verifies Parse never panics and always returns either
// a command or a typed ParseError, for arbitrary garbage input.
func TestParser_Totality(t *testing.T) {
	p := New(DefaultConfig())

	inputs := []string{
		"",
		" ",
		"@tipbot",
		"@tipbot @tipbot @tipbot",
		strings.Repeat("a ", 500),
		"@tipbot send " + strings.Repeat("9", 100) + " TIP to @alice",
		"@tipbot send 5e309 TIP to @alice",
		"\x00\x01\x02",
		"@tipbot send 5 TIP to @",
		"@tipbot send NaN to @alice",
		"@tipbot send Inf TIP to @alice",
		"😀 @tipbot 😀 send 😀",
	}

	for _, in := range inputs {
		cmd, err := p.Parse(in)
		if err == nil {
			require.NotNil(t, cmd, "input %q: nil command without error", in)
			continue
		}
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), "input %q: error should be *ParseError, got %T", in, err)
	}
}

func TestParser_CustomConfig(t *testing.T) {
	p := New(Config{
		TriggerHandle: "paybot",
		NativeToken:   "HBAR",
		TokenDecimals: map[string]int32{"HBAR": 8, "USDC": 6},
		MaxAmount:     decimal.NewFromInt(100),
	})

	cmd, err := p.Parse("@paybot send 5 USDC to @alice")
	require.NoError(t, err)
	assert.Equal(t, "USDC", cmd.Token)

	_, err = p.Parse("@paybot send 101 HBAR to @alice")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ReasonAmountOutOfRange, perr.Reason)
}
