package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/errs"
)

func TestParse(t *testing.T) {
	cases := map[string]Amount{
		"50":    5000,
		"0.1":   10,
		"12,50": 1250,
		" 3 ":   300,
		"0.01":  1,
		"1.500": 150,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseRejectsGarbageAndExtraPrecision(t *testing.T) {
	for _, in := range []string{"", "abc", "1.005", "1e-3"} {
		_, err := Parse(in)
		require.Error(t, err, in)
	}
}

func TestString(t *testing.T) {
	require.Equal(t, "5", Units(5).String())
	require.Equal(t, "0.1", Amount(10).String())
	require.Equal(t, "-50", Units(-50).String())
	require.Equal(t, "12.5", Amount(1250).String())
}

func TestScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan(int64(250)))
	require.Equal(t, Amount(250), a)
	require.NoError(t, a.Scan([]byte("1200")))
	require.Equal(t, Amount(1200), a)
	require.NoError(t, a.Scan(nil))
	require.Equal(t, Amount(0), a)
	require.Error(t, a.Scan(struct{}{}))
}

func TestParseRejectsOverflow(t *testing.T) {
	for _, in := range []string{"184467440737095566.16", "92233720368547758.08", "1e30", "-1e30"} {
		_, err := Parse(in)
		require.ErrorIs(t, err, errs.ErrInvalidAmount, in)
	}

	got, err := Parse("92233720368547758.07")
	require.NoError(t, err)
	require.Equal(t, Amount(math.MaxInt64), got)
}
