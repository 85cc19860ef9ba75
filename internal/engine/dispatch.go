package engine

import (
	"context"
	"errors"
	"fmt"

	"referral-bot/internal/errs"
	"referral-bot/internal/ledger"
	"referral-bot/internal/money"
)

type EventType string

const (
	EventUserRegistered       EventType = "user_registered"
	EventGatePassed           EventType = "gate_passed"
	EventCaptchaSolved        EventType = "captcha_solved"
	EventWithdrawalRequested  EventType = "withdrawal_requested"
	EventWithdrawalApproved   EventType = "withdrawal_approved"
	EventWithdrawalRejected   EventType = "withdrawal_rejected"
	EventCheckRedeemRequested EventType = "check_redeem_requested"
	EventDailyBonusRequested  EventType = "daily_bonus_requested"
)

// Event is an inbound trigger. Delivery may repeat; every handler is
// idempotent for the same logical event.
type Event struct {
	Type         EventType `json:"type" binding:"required"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	ReferrerID   *int64    `json:"referrer_id,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	Contact      string    `json:"contact,omitempty"`
	WithdrawalID uint      `json:"withdrawal_id,omitempty"`
	AdminID      int64     `json:"admin_id,omitempty"`
	Note         string    `json:"note,omitempty"`
	Code         string    `json:"code,omitempty"`
}

type Result struct {
	Outcome      string `json:"outcome"`
	Balance      string `json:"balance,omitempty"`
	WithdrawalID uint   `json:"withdrawal_id,omitempty"`
	Pass         *bool  `json:"gate_passed,omitempty"`
}

var ErrUnknownEvent = errors.New("unknown event type")

// Dispatch routes ev to the matching operation. Daily bonus and check
// redemption events need a passing gate, as in the bot menu.
func (e *Engine) Dispatch(ctx context.Context, ev Event) (*Result, error) {
	switch ev.Type {
	case EventUserRegistered:
		reg, err := e.RegisterOrUpdateAccount(ctx, ledger.RegisterParams{
			UserID:     ev.UserID,
			Username:   ev.Username,
			FullName:   ev.FullName,
			ReferrerID: ev.ReferrerID,
		})
		if err != nil {
			return nil, err
		}
		pass := reg.Decision.Pass
		return &Result{Outcome: reg.Referral.String(), Balance: reg.Account.Balance.String(), Pass: &pass}, nil

	case EventGatePassed:
		d, outcome, err := e.RecheckSubscription(ctx, ev.UserID)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: outcome.String(), Pass: &d.Pass}, nil

	case EventCaptchaSolved:
		d, outcome, err := e.SolveCaptcha(ctx, ev.UserID)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: outcome.String(), Pass: &d.Pass}, nil

	case EventWithdrawalRequested:
		amount, err := parseAmount(ev.Amount)
		if err != nil {
			return nil, err
		}
		w, err := e.RequestWithdrawal(ctx, ev.UserID, amount, ev.Contact)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: string(w.Status), WithdrawalID: w.ID}, nil

	case EventWithdrawalApproved:
		w, err := e.Approve(ctx, ev.WithdrawalID, ev.AdminID, ev.Note)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: string(w.Status), WithdrawalID: w.ID}, nil

	case EventWithdrawalRejected:
		w, err := e.Reject(ctx, ev.WithdrawalID, ev.AdminID, ev.Note)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: string(w.Status), WithdrawalID: w.ID}, nil

	case EventCheckRedeemRequested:
		if err := e.RequirePass(ctx, ev.UserID); err != nil {
			return nil, err
		}
		r, err := e.Redeem(ctx, ev.Code, ev.UserID)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: "redeemed", Balance: r.Balance.String()}, nil

	case EventDailyBonusRequested:
		if err := e.RequirePass(ctx, ev.UserID); err != nil {
			return nil, err
		}
		r, err := e.TryCreditDailyBonus(ctx, ev.UserID)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: r.Outcome.String(), Balance: r.Balance.String()}, nil

	default:
		return nil, fmt.Errorf("%q: %w", ev.Type, ErrUnknownEvent)
	}
}

func parseAmount(s string) (money.Amount, error) {
	if s == "" {
		return 0, errs.ErrInvalidAmount
	}
	a, err := money.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, errs.ErrInvalidAmount)
	}
	return a, nil
}
