// Package notify carries fire-and-forget messages produced by the engine.
// Delivery is best effort: sinks log failures and never report them back.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"referral-bot/internal/money"
)

type Kind string

const (
	KindReferralRegistered Kind = "referral_registered"
	KindReferralCredited   Kind = "referral_credited"
	KindWelcomeCredited    Kind = "welcome_credited"
	KindWithdrawalCreated  Kind = "withdrawal_created"
	KindWithdrawalApproved Kind = "withdrawal_approved"
	KindWithdrawalRejected Kind = "withdrawal_rejected"
	KindWithdrawalReady    Kind = "withdrawal_ready"
)

type Request struct {
	ID        string
	Kind      Kind
	UserID    int64
	CreatedAt time.Time

	Amount  money.Amount
	Balance money.Amount

	// Referral requests: the invited user.
	RelatedUserID int64
	RelatedName   string

	// Withdrawal requests.
	WithdrawalID uint
	Username     string
	Contact      string
	Note         string
}

func New(kind Kind, userID int64) Request {
	return Request{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

type Sink interface {
	Notify(ctx context.Context, req Request)
}

type Nop struct{}

func (Nop) Notify(context.Context, Request) {}

// Recorder keeps every request in memory.
type Recorder struct {
	mu   sync.Mutex
	reqs []Request
}

func (r *Recorder) Notify(_ context.Context, req Request) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
}

func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, len(r.reqs))
	copy(out, r.reqs)
	return out
}

func (r *Recorder) ByKind(kind Kind) []Request {
	var out []Request
	for _, req := range r.Requests() {
		if req.Kind == kind {
			out = append(out, req)
		}
	}
	return out
}
