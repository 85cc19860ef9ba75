package captcha

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/testutil"
)

func TestGenerate(t *testing.T) {
	for i := 0; i < 200; i++ {
		c, err := Generate()
		require.NoError(t, err)
		require.GreaterOrEqual(t, c.Answer, 0)
		require.Len(t, c.Options, 4)
		require.Contains(t, c.Options, c.Answer)

		seen := map[int]bool{}
		for _, o := range c.Options {
			require.False(t, seen[o])
			require.GreaterOrEqual(t, o, 0)
			seen[o] = true
		}
	}
}

func TestStoreVerifyOnce(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	s := NewStore(rdb, time.Minute)
	ctx := context.Background()

	c := Challenge{Question: "2 + 3", Answer: 5}
	require.NoError(t, s.Save(ctx, 1, c))

	ok, err := s.Verify(ctx, 1, " 5 ")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Verify(ctx, 1, "5")
	require.ErrorIs(t, err, ErrExpired)
}

func TestStoreWrongAnswerConsumes(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	s := NewStore(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, 1, Challenge{Answer: 7}))
	ok, err := s.Verify(ctx, 1, "six")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Verify(ctx, 1, strconv.Itoa(7))
	require.ErrorIs(t, err, ErrExpired)
}

func TestStoreExpires(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	s := NewStore(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, 1, Challenge{Answer: 3}))
	mr.FastForward(2 * time.Minute)

	_, err := s.Verify(ctx, 1, "3")
	require.ErrorIs(t, err, ErrExpired)
}
