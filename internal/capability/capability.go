package capability

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shaunmat/PostGradePortal/internal/model"
	"github.com/shaunmat/PostGradePortal/internal/session"
)

// ModuleLister is the slice of the repository the capability derivation
// needs: module records looked up by supervised course id.
type ModuleLister interface {
	ListModulesByCourse(ctx context.Context, courseID string) ([]model.Module, error)
}

// Service derives SupervisionCapabilities from the supervisor's course list
// and caches the result for TTL (one hour in production). Expiry is a
// wall-clock comparison against the stored timestamp; good enough here since
// the flags only gate menu entries.
type Service struct {
	modules ModuleLister
	kv      session.KV
	ttl     time.Duration
	now     func() time.Time
}

func NewService(modules ModuleLister, kv session.KV, ttl time.Duration) *Service {
	return &Service{
		modules: modules,
		kv:      kv,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, supervisorID string, courseIDs []string) (model.SupervisionCapabilities, error) {
	if caps, ok := s.cached(ctx, supervisorID); ok {
		return caps, nil
	}

	caps, err := s.derive(ctx, courseIDs)
	if err != nil {
		return model.SupervisionCapabilities{}, err
	}
	if err := s.store(ctx, supervisorID, caps); err != nil {
		return model.SupervisionCapabilities{}, err
	}
	return caps, nil
}

func (s *Service) Invalidate(ctx context.Context, supervisorID string) error {
	return s.kv.Del(ctx,
		session.CapabilityKey(supervisorID),
		session.CapabilityTimestampKey(supervisorID),
	)
}

func (s *Service) cached(ctx context.Context, supervisorID string) (model.SupervisionCapabilities, bool) {
	raw, ok, err := s.kv.Get(ctx, session.CapabilityKey(supervisorID))
	if err != nil || !ok {
		return model.SupervisionCapabilities{}, false
	}
	stamp, ok, err := s.kv.Get(ctx, session.CapabilityTimestampKey(supervisorID))
	if err != nil || !ok {
		return model.SupervisionCapabilities{}, false
	}
	writtenAt, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return model.SupervisionCapabilities{}, false
	}
	if s.now().Sub(time.Unix(writtenAt, 0)) >= s.ttl {
		return model.SupervisionCapabilities{}, false
	}
	var caps model.SupervisionCapabilities
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		return model.SupervisionCapabilities{}, false
	}
	return caps, true
}

func (s *Service) store(ctx context.Context, supervisorID string, caps model.SupervisionCapabilities) error {
	data, err := json.Marshal(caps)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, session.CapabilityKey(supervisorID), string(data), s.ttl); err != nil {
		return err
	}
	stamp := strconv.FormatInt(s.now().Unix(), 10)
	return s.kv.Set(ctx, session.CapabilityTimestampKey(supervisorID), stamp, s.ttl)
}

// derive scans every supervised course for module records; a flag is true
// iff at least one owned course carries a module of that type.
func (s *Service) derive(ctx context.Context, courseIDs []string) (model.SupervisionCapabilities, error) {
	var caps model.SupervisionCapabilities
	for _, courseID := range courseIDs {
		modules, err := s.modules.ListModulesByCourse(ctx, courseID)
		if err != nil {
			return model.SupervisionCapabilities{}, err
		}
		for _, m := range modules {
			switch m.Type {
			case model.ModuleTypeHonours:
				caps.HasHonours = true
			case model.ModuleTypeMasters:
				caps.HasMasters = true
			case model.ModuleTypePhD:
				caps.HasPhD = true
			}
		}
	}
	return caps, nil
}
