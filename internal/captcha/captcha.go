// Package captcha issues simple arithmetic challenges. Answers live in Redis
// and can be checked once.
package captcha

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

var ErrExpired = errors.New("captcha expired or missing")

type Challenge struct {
	Question string
	Answer   int
	// Options are answer buttons; one of them is Answer.
	Options []int
}

// Generate builds "a + b" or "a - b" with a non-negative result and four
// distinct answer options.
func Generate() (Challenge, error) {
	a, err := randInt(1, 20)
	if err != nil {
		return Challenge{}, err
	}
	b, err := randInt(1, 20)
	if err != nil {
		return Challenge{}, err
	}
	op, err := randInt(0, 1)
	if err != nil {
		return Challenge{}, err
	}

	c := Challenge{}
	if op == 0 || a < b {
		c.Question = fmt.Sprintf("%d + %d", a, b)
		c.Answer = a + b
	} else {
		c.Question = fmt.Sprintf("%d - %d", a, b)
		c.Answer = a - b
	}

	c.Options = []int{c.Answer}
	for len(c.Options) < 4 {
		delta, err := randInt(-5, 5)
		if err != nil {
			return Challenge{}, err
		}
		candidate := c.Answer + delta
		if candidate < 0 || contains(c.Options, candidate) {
			continue
		}
		c.Options = append(c.Options, candidate)
	}
	pos, err := randInt(0, len(c.Options)-1)
	if err != nil {
		return Challenge{}, err
	}
	c.Options[0], c.Options[pos] = c.Options[pos], c.Options[0]
	return c, nil
}

func randInt(lo, hi int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo+1)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate captcha: %w", err)
	}
	return lo + int(n.Int64()), nil
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(userID int64) string {
	return fmt.Sprintf("captcha_%d", userID)
}

// Save replaces any pending challenge for userID.
func (s *Store) Save(ctx context.Context, userID int64, c Challenge) error {
	if err := s.rdb.Set(ctx, key(userID), c.Answer, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save captcha for %d: %w", userID, err)
	}
	return nil
}

// Verify consumes the pending challenge. A wrong answer also consumes it so
// the user has to request a new one.
func (s *Store) Verify(ctx context.Context, userID int64, answer string) (bool, error) {
	stored, err := s.rdb.GetDel(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, ErrExpired
	}
	if err != nil {
		return false, fmt.Errorf("failed to load captcha for %d: %w", userID, err)
	}
	got, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil {
		return false, nil
	}
	want, err := strconv.Atoi(stored)
	if err != nil {
		return false, fmt.Errorf("corrupt captcha for %d: %w", userID, err)
	}
	return got == want, nil
}
