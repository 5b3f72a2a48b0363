package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shaunmat/PostGradePortal/internal/model"
)

// ErrCacheMiss signals that no profile is cached for the session; callers
// recover by fetching from the identity store and calling Store.
var ErrCacheMiss = errors.New("session: cache miss")

// Cache holds the authenticated user's profile for the lifetime of one
// login. The profile itself never expires; Clear removes it together with the
// derived supervisor capability keys, and must run on logout.
type Cache struct {
	kv KV
}

func NewCache(kv KV) *Cache {
	return &Cache{kv: kv}
}

func (c *Cache) Load(ctx context.Context, userID string) (model.UserProfile, error) {
	value, ok, err := c.kv.Get(ctx, profileKey(userID))
	if err != nil {
		return model.UserProfile{}, err
	}
	if !ok {
		return model.UserProfile{}, ErrCacheMiss
	}
	var profile model.UserProfile
	if err := json.Unmarshal([]byte(value), &profile); err != nil {
		// A profile that no longer unmarshals is treated as absent; the
		// caller refetches and overwrites the broken entry.
		return model.UserProfile{}, ErrCacheMiss
	}
	return profile, nil
}

func (c *Cache) Store(ctx context.Context, profile model.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, profileKey(profile.ID), string(data), 0)
}

func (c *Cache) Clear(ctx context.Context, userID string) error {
	return c.kv.Del(ctx,
		profileKey(userID),
		CapabilityKey(userID),
		CapabilityTimestampKey(userID),
	)
}

func profileKey(userID string) string {
	return fmt.Sprintf("session_profile:%s", userID)
}

func CapabilityKey(userID string) string {
	return fmt.Sprintf("supervisor_capabilities:%s", userID)
}

func CapabilityTimestampKey(userID string) string {
	return fmt.Sprintf("supervisor_capabilities_at:%s", userID)
}
