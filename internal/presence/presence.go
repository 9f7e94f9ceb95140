package presence

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/CDeX-Labs/CDeX-CTF-Core/internal/redis"
	"github.com/rs/zerolog"
)

const (
	presenceKeyFmt = "presence:user:%s"
	teamOnlineFmt  = "presence:team:%s"
	presenceTTL    = 5 * time.Minute
)

// Manager tracks which instances hold an observer connection for a user.
// A user is online while any instance field in their hash is present.
type Manager struct {
	redis      *redisclient.Client
	instanceID string
	now        func() time.Time
	logger     zerolog.Logger
}

func NewManager(redis *redisclient.Client, instanceID string, logger zerolog.Logger) *Manager {
	return &Manager{
		redis:      redis,
		instanceID: instanceID,
		now:        time.Now,
		logger:     logger.With().Str("component", "presence").Logger(),
	}
}

// SetOnline records this instance for the user and, when teamID is set,
// marks the user as an online member of the team.
func (m *Manager) SetOnline(ctx context.Context, userID string, teamID *string) error {
	if err := m.touch(ctx, userID); err != nil {
		return err
	}
	if teamID == nil {
		return nil
	}
	key := fmt.Sprintf(teamOnlineFmt, *teamID)
	if err := m.redis.SAdd(ctx, key, userID); err != nil {
		return err
	}
	return m.redis.Expire(ctx, key, presenceTTL)
}

// SetOffline removes this instance. The user leaves the team set only once
// no instance holds a connection.
func (m *Manager) SetOffline(ctx context.Context, userID string, teamID *string) error {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	if err := m.redis.HDel(ctx, key, m.instanceID); err != nil {
		return err
	}
	if teamID == nil {
		return nil
	}
	online, err := m.IsOnline(ctx, userID)
	if err != nil || online {
		return err
	}
	return m.redis.SRem(ctx, fmt.Sprintf(teamOnlineFmt, *teamID), userID)
}

func (m *Manager) IsOnline(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	count, err := m.redis.HLen(ctx, key)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *Manager) GetOnlineUsers(ctx context.Context, userIDs []string) ([]string, error) {
	online := make([]string, 0)
	for _, userID := range userIDs {
		isOnline, err := m.IsOnline(ctx, userID)
		if err != nil {
			m.logger.Error().Err(err).Str("userId", userID).Msg("Failed to check presence")
			continue
		}
		if isOnline {
			online = append(online, userID)
		}
	}
	return online, nil
}

// TeamMembersOnline lists members of a team with a live connection.
func (m *Manager) TeamMembersOnline(ctx context.Context, teamID string) ([]string, error) {
	members, err := m.redis.SMembers(ctx, fmt.Sprintf(teamOnlineFmt, teamID))
	if err != nil {
		return nil, err
	}
	return m.GetOnlineUsers(ctx, members)
}

func (m *Manager) GetUserInstances(ctx context.Context, userID string) (map[string]string, error) {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	return m.redis.HGetAll(ctx, key)
}

func (m *Manager) RefreshPresence(ctx context.Context, userID string) error {
	return m.touch(ctx, userID)
}

func (m *Manager) touch(ctx context.Context, userID string) error {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	if err := m.redis.HSet(ctx, key, m.instanceID, m.now().Unix()); err != nil {
		return err
	}
	return m.redis.Expire(ctx, key, presenceTTL)
}
