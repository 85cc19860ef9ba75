package bot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// ChatMemberGetter is the part of *telego.Bot the oracle needs.
type ChatMemberGetter interface {
	GetChatMember(ctx context.Context, params *telego.GetChatMemberParams) (telego.ChatMember, error)
}

// SubscriptionOracle asks Telegram whether a user is a channel member. The
// bot must be an admin of every required channel.
type SubscriptionOracle struct {
	api ChatMemberGetter
}

func NewSubscriptionOracle(api ChatMemberGetter) *SubscriptionOracle {
	return &SubscriptionOracle{api: api}
}

func (o *SubscriptionOracle) IsSubscribed(ctx context.Context, userID int64, channelID string) (bool, error) {
	member, err := o.api.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: chatID(channelID),
		UserID: userID,
	})
	if err != nil {
		return false, fmt.Errorf("get chat member %s: %w", channelID, err)
	}
	return isMember(member), nil
}

func isMember(member telego.ChatMember) bool {
	switch m := member.(type) {
	case *telego.ChatMemberRestricted:
		return m.IsMember
	default:
		switch member.MemberStatus() {
		case "member", "administrator", "creator":
			return true
		}
	}
	return false
}

func chatID(id string) telego.ChatID {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tu.ID(n)
	}
	return tu.Username(id)
}
