package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"presence-service/internal/database"
)

const (
	onlineUsersKey    = "online_users"
	statusTTL         = 5 * time.Minute
	offlineStatusTTL  = 24 * time.Hour
	presenceEventsKey = "presence_events"
)

// RedisService mirrors transient presence state into Redis so other service
// instances and the REST tier can answer who-is-online queries. Nothing here
// is authoritative; the in-memory registry is rebuilt from client events after
// any restart.
type RedisService struct {
	client *database.RedisClient
}

func NewRedisService(client *database.RedisClient) *RedisService {
	return &RedisService{
		client: client,
	}
}

func (r *RedisService) UserOnline(ctx context.Context, userID string) error {
	pipe := r.client.GetClient().Pipeline()

	pipe.SAdd(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, fmt.Sprintf("user:%s:status", userID), map[string]interface{}{
		"status":     "online",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf("user:%s:status", userID), statusTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	slog.Debug("User set to online", "userID", userID)
	return nil
}

func (r *RedisService) UserOffline(ctx context.Context, userID string) error {
	pipe := r.client.GetClient().Pipeline()

	pipe.SRem(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, fmt.Sprintf("user:%s:status", userID), map[string]interface{}{
		"status":     "offline",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf("user:%s:status", userID), offlineStatusTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	slog.Debug("User set to offline", "userID", userID)
	return nil
}

func (r *RedisService) UserJoinedRoom(ctx context.Context, userID, roomID string) error {
	pipe := r.client.GetClient().Pipeline()
	pipe.SAdd(ctx, fmt.Sprintf("room:%s:members", roomID), userID)
	pipe.SAdd(ctx, fmt.Sprintf("user:%s:rooms", userID), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return r.publishPresenceEvent(ctx, "room.member.join", userID, roomID)
}

func (r *RedisService) UserLeftRoom(ctx context.Context, userID, roomID string) error {
	pipe := r.client.GetClient().Pipeline()
	pipe.SRem(ctx, fmt.Sprintf("room:%s:members", roomID), userID)
	pipe.SRem(ctx, fmt.Sprintf("user:%s:rooms", userID), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return r.publishPresenceEvent(ctx, "room.member.leave", userID, roomID)
}

func (r *RedisService) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return r.client.GetClient().SIsMember(ctx, onlineUsersKey, userID).Result()
}

func (r *RedisService) OnlineUsers(ctx context.Context) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, onlineUsersKey).Result()
}

func (r *RedisService) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, fmt.Sprintf("room:%s:members", roomID)).Result()
}

func (r *RedisService) publishPresenceEvent(ctx context.Context, eventType, userID, roomID string) error {
	event := map[string]interface{}{
		"type":      eventType,
		"user_id":   userID,
		"room_id":   roomID,
		"timestamp": time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.GetClient().Publish(ctx, presenceEventsKey, payload).Err()
}
