// Package gate decides whether an account passed the captcha and the
// required channel subscriptions. Evaluation has no side effects.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"referral-bot/internal/errs"
	"referral-bot/internal/models"
)

// CaptchaValidity is how long a solved captcha keeps the account verified.
const CaptchaValidity = 24 * time.Hour

const DefaultOracleTimeout = 5 * time.Second

type Status int

const (
	Satisfied Status = iota
	Required
)

func (s Status) String() string {
	if s == Satisfied {
		return "satisfied"
	}
	return "required"
}

type Decision struct {
	Captcha      Status
	Subscription Status
	// Unsatisfied lists the required channels the user is not a member of,
	// including the ones the oracle could not answer for.
	Unsatisfied []models.RequiredChannel
	Pass        bool
	// OracleErr is set when at least one membership lookup failed.
	OracleErr error
}

// Oracle answers "is user a member of channel".
type Oracle interface {
	IsSubscribed(ctx context.Context, userID int64, channelID string) (bool, error)
}

type AccountReader interface {
	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
}

type ChannelSource interface {
	RequiredChannels(ctx context.Context) ([]models.RequiredChannel, error)
}

type Config struct {
	CaptchaEnabled bool
	OracleTimeout  time.Duration
	Now            func() time.Time
}

type Evaluator struct {
	accounts AccountReader
	channels ChannelSource
	oracle   Oracle
	cfg      Config
}

func NewEvaluator(accounts AccountReader, channels ChannelSource, oracle Oracle, cfg Config) *Evaluator {
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultOracleTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Evaluator{accounts: accounts, channels: channels, oracle: oracle, cfg: cfg}
}

// Evaluate computes the decision for userID. Only storage failures are
// returned as errors; oracle failures make the subscription unsatisfied.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64) (Decision, error) {
	acc, err := e.accounts.GetAccount(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Captcha: e.captchaStatus(acc)}

	channels, err := e.channels.RequiredChannels(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load required channels: %w", err)
	}

	d.Unsatisfied, d.OracleErr = e.checkChannels(ctx, userID, channels)
	if len(d.Unsatisfied) > 0 {
		d.Subscription = Required
	}

	d.Pass = d.Captcha == Satisfied && d.Subscription == Satisfied
	return d, nil
}

func (e *Evaluator) captchaStatus(acc *models.Account) Status {
	if !e.cfg.CaptchaEnabled {
		return Satisfied
	}
	if acc.CaptchaSolvedAt == nil {
		return Required
	}
	if e.cfg.Now().Sub(*acc.CaptchaSolvedAt) >= CaptchaValidity {
		return Required
	}
	return Satisfied
}

func (e *Evaluator) checkChannels(ctx context.Context, userID int64, channels []models.RequiredChannel) ([]models.RequiredChannel, error) {
	active := make([]models.RequiredChannel, 0, len(channels))
	for _, ch := range channels {
		if ch.IsActive && !ch.IsPlaceholder() {
			active = append(active, ch)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
	defer cancel()

	subscribed := make([]bool, len(active))
	var (
		mu        sync.Mutex
		oracleErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range active {
		g.Go(func() error {
			ok, err := e.ask(gctx, userID, ch.ChannelID)
			if err != nil {
				mu.Lock()
				if oracleErr == nil {
					oracleErr = err
				}
				mu.Unlock()
				return nil
			}
			subscribed[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	var unsatisfied []models.RequiredChannel
	for i, ch := range active {
		if !subscribed[i] {
			unsatisfied = append(unsatisfied, ch)
		}
	}
	return unsatisfied, oracleErr
}

// ask returns as soon as the context expires even if the oracle ignores it.
func (e *Evaluator) ask(ctx context.Context, userID int64, channelID string) (bool, error) {
	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		ok, err := e.oracle.IsSubscribed(ctx, userID, channelID)
		ch <- answer{ok, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil && errors.Is(a.err, context.DeadlineExceeded) {
			return false, fmt.Errorf("channel %s: %w", channelID, errs.ErrOracleTimeout)
		}
		if a.err != nil {
			return false, fmt.Errorf("channel %s: %w", channelID, a.err)
		}
		return a.ok, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("channel %s: %w", channelID, errs.ErrOracleTimeout)
		}
		return false, fmt.Errorf("channel %s: %w", channelID, ctx.Err())
	}
}

// OracleFunc adapts a plain function to Oracle.
type OracleFunc func(ctx context.Context, userID int64, channelID string) (bool, error)

func (f OracleFunc) IsSubscribed(ctx context.Context, userID int64, channelID string) (bool, error) {
	return f(ctx, userID, channelID)
}
