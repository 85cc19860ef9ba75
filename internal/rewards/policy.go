package rewards

import (
	"fmt"
	"strings"

	"referral-bot/internal/money"
)

// CreditMode decides when a referral is paid.
type CreditMode int

const (
	// GatedCredit pays once the invited user passes the captcha and
	// subscription gate.
	GatedCredit CreditMode = iota
	// ImmediateCredit pays on registration.
	ImmediateCredit
)

func (m CreditMode) String() string {
	if m == ImmediateCredit {
		return "immediate"
	}
	return "gated"
}

func ParseCreditMode(s string) (CreditMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gated":
		return GatedCredit, nil
	case "immediate":
		return ImmediateCredit, nil
	default:
		return 0, fmt.Errorf("unknown credit mode %q", s)
	}
}

// Policy holds the amounts and timing of one bot flavour.
type Policy struct {
	Name           string
	Unit           string
	ReferralReward money.Amount
	// WelcomeBonus goes to the invited user together with the referral
	// reward. Zero disables it.
	WelcomeBonus  money.Amount
	DailyBonus    money.Amount
	MinWithdrawal money.Amount
	CreditMode    CreditMode
}

func StarPolicy() Policy {
	return Policy{
		Name:           "stars",
		Unit:           "⭐",
		ReferralReward: money.Units(5),
		WelcomeBonus:   money.Units(1),
		DailyBonus:     money.Amount(10),
		MinWithdrawal:  money.Units(50),
		CreditMode:     GatedCredit,
	}
}

func CurrencyPolicy() Policy {
	return Policy{
		Name:           "currency",
		Unit:           "₽",
		ReferralReward: money.Units(10),
		DailyBonus:     money.Units(1),
		MinWithdrawal:  money.Units(100),
		CreditMode:     ImmediateCredit,
	}
}

func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "stars", "star":
		return StarPolicy(), nil
	case "currency", "rub":
		return CurrencyPolicy(), nil
	default:
		return Policy{}, fmt.Errorf("unknown reward policy %q", name)
	}
}

// Format renders an amount with the policy unit, e.g. "5 ⭐".
func (p Policy) Format(a money.Amount) string {
	return a.String() + " " + p.Unit
}
