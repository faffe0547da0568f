package service

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/fairyhunter13/spin-wheel/internal/model"
)

// DefaultWheelKey is the cache key of the resolved default wheel.
const DefaultWheelKey = "default"

// WheelKey returns the cache key of an explicitly requested wheel.
func WheelKey(wheelID int64) string {
	return strconv.FormatInt(wheelID, 10)
}

// WheelRepositoryInterface defines read access to wheel configuration.
// Lookups return nil, nil when nothing matches.
type WheelRepositoryInterface interface {
	GetActiveByID(ctx context.Context, id int64) (*model.Wheel, error)
	GetActiveDefault(ctx context.Context) (*model.Wheel, error)
	GetLatestActive(ctx context.Context) (*model.Wheel, error)
	GetActivePrizes(ctx context.Context, wheelID int64) ([]model.Prize, error)
}

// WheelCache stores wheel configurations for a bounded time.
// Get returns nil, nil on a miss.
type WheelCache interface {
	Get(ctx context.Context, key string) (*model.WheelConfig, error)
	Set(ctx context.Context, key string, cfg *model.WheelConfig) error
	Delete(ctx context.Context, keys ...string) error
}

// WheelStore supplies wheel configuration snapshots to the engine.
type WheelStore struct {
	repo    WheelRepositoryInterface
	cache   WheelCache
	timeout time.Duration
	group   singleflight.Group
	// generation advances on every invalidation; loads that started earlier do not repopulate the cache.
	generation atomic.Uint64
}

// NewWheelStore creates a WheelStore. cache may be nil to always read the repository.
// timeout bounds each repository load; zero disables the bound.
func NewWheelStore(repo WheelRepositoryInterface, cache WheelCache, timeout time.Duration) *WheelStore {
	return &WheelStore{
		repo:    repo,
		cache:   cache,
		timeout: timeout,
	}
}

// ResolveDefaultWheel returns the newest active default wheel, else the newest active wheel.
// Returns ErrNoActiveWheel if no wheel is active.
func (s *WheelStore) ResolveDefaultWheel(ctx context.Context) (*model.Wheel, error) {
	wheel, err := s.repo.GetActiveDefault(ctx)
	if err != nil {
		return nil, storeError("get default wheel", err)
	}
	if wheel != nil {
		return wheel, nil
	}

	wheel, err = s.repo.GetLatestActive(ctx)
	if err != nil {
		return nil, storeError("get latest active wheel", err)
	}
	if wheel == nil {
		return nil, ErrNoActiveWheel
	}
	return wheel, nil
}

// Load returns the wheel and its active prizes. A nil wheelID selects the default wheel.
// The returned config is shared and must not be modified.
func (s *WheelStore) Load(ctx context.Context, wheelID *int64) (*model.WheelConfig, error) {
	key := DefaultWheelKey
	if wheelID != nil {
		key = WheelKey(*wheelID)
	}

	if s.cache != nil {
		cfg, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("wheel cache read failed, loading from database")
		} else if cfg != nil {
			return cfg, nil
		}
	}

	gen := s.generation.Load()
	ch := s.group.DoChan(key, func() (any, error) {
		// Shared by every caller waiting on key, so one caller's cancellation must not end it.
		loadCtx := context.WithoutCancel(ctx)
		cfg, err := s.load(loadCtx, wheelID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.generation.Load() == gen {
			if err := s.cache.Set(loadCtx, key, cfg); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("wheel cache write failed")
			}
		}
		return cfg, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.WheelConfig), nil
	case <-ctx.Done():
		return nil, storeError("load wheel "+key, ctx.Err())
	}
}

func (s *WheelStore) load(ctx context.Context, wheelID *int64) (*model.WheelConfig, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var wheel *model.Wheel
	if wheelID == nil {
		w, err := s.ResolveDefaultWheel(ctx)
		if err != nil {
			return nil, err
		}
		wheel = w
	} else {
		w, err := s.repo.GetActiveByID(ctx, *wheelID)
		if err != nil {
			return nil, storeError("get wheel", err)
		}
		if w == nil {
			return nil, ErrNoActiveWheel
		}
		wheel = w
	}

	prizes, err := s.repo.GetActivePrizes(ctx, wheel.ID)
	if err != nil {
		return nil, storeError("get prizes", err)
	}
	if prizes == nil {
		prizes = []model.Prize{}
	}

	return &model.WheelConfig{Wheel: *wheel, Prizes: prizes}, nil
}

// GetActiveWheel returns the requested active wheel, or the default wheel when wheelID is nil.
func (s *WheelStore) GetActiveWheel(ctx context.Context, wheelID *int64) (*model.Wheel, error) {
	cfg, err := s.Load(ctx, wheelID)
	if err != nil {
		return nil, err
	}
	wheel := cfg.Wheel
	return &wheel, nil
}

// GetActivePrizes returns the active prizes of a wheel in display order.
// An empty slice is a valid result.
func (s *WheelStore) GetActivePrizes(ctx context.Context, wheelID int64) ([]model.Prize, error) {
	cfg, err := s.Load(ctx, &wheelID)
	if err != nil {
		return nil, err
	}
	prizes := make([]model.Prize, len(cfg.Prizes))
	copy(prizes, cfg.Prizes)
	return prizes, nil
}

// InvalidateWheel drops cached configuration for the wheel and the default entry,
// since any edit may change which wheel is the default.
func (s *WheelStore) InvalidateWheel(ctx context.Context, wheelID int64) error {
	if wheelID <= 0 {
		return ErrInvalidRequest
	}
	s.generation.Add(1)
	s.group.Forget(WheelKey(wheelID))
	s.group.Forget(DefaultWheelKey)
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, WheelKey(wheelID), DefaultWheelKey); err != nil {
		return fmt.Errorf("invalidate wheel %d: %w: %w", wheelID, ErrStoreUnavailable, err)
	}
	return nil
}
