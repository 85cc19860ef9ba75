package models

import (
	"strings"
	"time"
)

type ChannelKind string

const (
	// ChannelRequired channels are checked by the access gate.
	ChannelRequired ChannelKind = "required"
	// ChannelLink entries are only shown to users.
	ChannelLink ChannelKind = "link"
)

type RequiredChannel struct {
	ID        uint        `gorm:"primaryKey"`
	ChannelID string      `gorm:"size:128;index"`
	Username  string      `gorm:"size:128"`
	Title     string      `gorm:"size:255;not null"`
	Link      string      `gorm:"size:512"`
	Kind      ChannelKind `gorm:"size:16;not null;default:'required'"`
	IsActive  bool        `gorm:"not null;default:true"`
	AddedBy   int64
	CreatedAt time.Time
}

// URL returns a link users can open to join the channel.
func (c RequiredChannel) URL() string {
	if c.Link != "" {
		return c.Link
	}
	if u := strings.TrimPrefix(c.Username, "@"); u != "" {
		return "https://t.me/" + u
	}
	if strings.HasPrefix(c.ChannelID, "@") {
		return "https://t.me/" + strings.TrimPrefix(c.ChannelID, "@")
	}
	return ""
}

// IsPlaceholder reports template ids left in config, e.g. "@your_channel" or
// "-100XXXXXXXXXX". They are treated as no requirement.
func (c RequiredChannel) IsPlaceholder() bool {
	id := strings.TrimSpace(c.ChannelID)
	if id == "" || id == "@" {
		return true
	}
	lower := strings.ToLower(id)
	return strings.Contains(lower, "your_") || strings.Contains(lower, "xxx") || strings.Contains(lower, "example")
}
