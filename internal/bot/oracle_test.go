package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"
)

type fakeMembers struct {
	member telego.ChatMember
	err    error
	params *telego.GetChatMemberParams
}

func (f *fakeMembers) GetChatMember(_ context.Context, params *telego.GetChatMemberParams) (telego.ChatMember, error) {
	f.params = params
	return f.member, f.err
}

func TestSubscriptionOracle(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		member telego.ChatMember
		want   bool
	}{
		{"member", &telego.ChatMemberMember{Status: "member"}, true},
		{"admin", &telego.ChatMemberAdministrator{Status: "administrator"}, true},
		{"owner", &telego.ChatMemberOwner{Status: "creator"}, true},
		{"left", &telego.ChatMemberLeft{Status: "left"}, false},
		{"banned", &telego.ChatMemberBanned{Status: "kicked"}, false},
		{"restricted member", &telego.ChatMemberRestricted{Status: "restricted", IsMember: true}, true},
		{"restricted left", &telego.ChatMemberRestricted{Status: "restricted"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeMembers{member: tc.member}
			ok, err := NewSubscriptionOracle(api).IsSubscribed(ctx, 42, "@news")
			require.NoError(t, err)
			require.Equal(t, tc.want, ok)
			require.Equal(t, int64(42), api.params.UserID)
			require.Equal(t, "@news", api.params.ChatID.Username)
		})
	}

	api := &fakeMembers{err: errors.New("Bad Request: chat not found")}
	_, err := NewSubscriptionOracle(api).IsSubscribed(ctx, 1, "-100123")
	require.Error(t, err)
	require.Equal(t, int64(-100123), api.params.ChatID.ID)
}
