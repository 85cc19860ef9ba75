// Package channels keeps the admin-managed list of channels users must join.
package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"referral-bot/internal/errs"
	"referral-bot/internal/models"
)

const DefaultTTL = time.Minute

// Store serves the required channel list from a snapshot. The snapshot is
// reloaded when a local write bumped the version or the TTL ran out, so
// other processes' edits show up within one TTL.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time

	mu             sync.RWMutex
	version        uint64
	snapshot       []models.RequiredChannel
	snapshotOf     uint64
	snapshotLoaded time.Time
	loaded         bool
}

func NewStore(db *gorm.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// Version changes on every local write.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) bump() {
	s.mu.Lock()
	s.version++
	s.mu.Unlock()
}

// Seed inserts channels from configuration that are not stored yet.
func (s *Store) Seed(ctx context.Context, ids []string) error {
	added := 0
	for _, id := range ids {
		ch := models.RequiredChannel{ChannelID: strings.TrimSpace(id), Kind: models.ChannelRequired, IsActive: true}
		if ch.IsPlaceholder() {
			continue
		}
		ch.Title = ch.ChannelID

		var n int64
		if err := s.db.WithContext(ctx).Model(&models.RequiredChannel{}).Where("channel_id = ?", ch.ChannelID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check channel %s: %w", ch.ChannelID, err)
		}
		if n > 0 {
			continue
		}
		if strings.HasPrefix(ch.ChannelID, "@") {
			ch.Username = ch.ChannelID
		}
		if err := s.db.WithContext(ctx).Create(&ch).Error; err != nil {
			return fmt.Errorf("failed to seed channel %s: %w", ch.ChannelID, err)
		}
		added++
	}
	if added > 0 {
		s.bump()
	}
	return nil
}

func (s *Store) Add(ctx context.Context, ch models.RequiredChannel) (*models.RequiredChannel, error) {
	ch.ChannelID = strings.TrimSpace(ch.ChannelID)
	if ch.Kind == "" {
		ch.Kind = models.ChannelRequired
	}
	if ch.Kind == models.ChannelRequired && ch.IsPlaceholder() {
		return nil, fmt.Errorf("channel id %q is not usable", ch.ChannelID)
	}
	if ch.Title == "" {
		ch.Title = ch.ChannelID
	}
	ch.IsActive = true

	if err := s.db.WithContext(ctx).Create(&ch).Error; err != nil {
		return nil, fmt.Errorf("failed to add channel: %w", err)
	}
	s.bump()
	return &ch, nil
}

func (s *Store) Deactivate(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.RequiredChannel{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate channel %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("channel %d: %w", id, errs.ErrNotFound)
	}
	s.bump()
	return nil
}

func (s *Store) Get(ctx context.Context, id uint) (*models.RequiredChannel, error) {
	var ch models.RequiredChannel
	err := s.db.WithContext(ctx).Take(&ch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("channel %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load channel %d: %w", id, err)
	}
	return &ch, nil
}

// List returns active channels of both kinds in insertion order.
func (s *Store) List(ctx context.Context) ([]models.RequiredChannel, error) {
	var out []models.RequiredChannel
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return out, nil
}

// RequiredChannels returns the active required channels without
// placeholders. The result is shared; callers must not modify it.
func (s *Store) RequiredChannels(ctx context.Context) ([]models.RequiredChannel, error) {
	s.mu.RLock()
	fresh := s.loaded && s.snapshotOf == s.version && s.now().Sub(s.snapshotLoaded) < s.ttl
	snap := s.snapshot
	s.mu.RUnlock()
	if fresh {
		return snap, nil
	}

	s.mu.RLock()
	version := s.version
	s.mu.RUnlock()

	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	required := make([]models.RequiredChannel, 0, len(all))
	for _, ch := range all {
		if ch.Kind == models.ChannelRequired && !ch.IsPlaceholder() {
			required = append(required, ch)
		}
	}

	s.mu.Lock()
	if version >= s.snapshotOf {
		s.snapshot = required
		s.snapshotOf = version
		s.snapshotLoaded = s.now()
		s.loaded = true
	}
	s.mu.Unlock()
	return required, nil
}
