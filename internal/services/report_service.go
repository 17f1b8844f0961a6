package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/reconcile"
)

// ReportService serves the read-side projections, cached per user for a
// short TTL. Mutations through LedgerService invalidate the user's entries.
type ReportService struct {
	engine    *reconcile.Engine
	overviews cache.Cache[core.MonthOverview]
	years     cache.Cache[core.YearOverview]
	trends    cache.Cache[[]core.DailyAmount]
	cleaners  []cache.Cleaner
	logger    *log.Logger
}

var _ Invalidator = (*ReportService)(nil)

// NewReportService caches projections for ttl; a ttl of zero disables caching.
func NewReportService(engine *reconcile.Engine, ttl time.Duration) *ReportService {
	s := &ReportService{
		engine: engine,
		logger: log.ForComponent(log.ComponentReport),
	}
	if ttl > 0 {
		overviews := cache.NewTTLCache[core.MonthOverview](ttl)
		years := cache.NewTTLCache[core.YearOverview](ttl)
		trends := cache.NewTTLCache[[]core.DailyAmount](ttl)
		s.overviews, s.years, s.trends = overviews, years, trends
		s.cleaners = []cache.Cleaner{overviews, years, trends}
	}
	return s
}

// Cleaners exposes the caches for a cache.Manager sweep.
func (s *ReportService) Cleaners() []cache.Cleaner {
	return s.cleaners
}

func cacheKey(userID string, parts ...string) string {
	return userID + "|" + strings.Join(parts, "|")
}

// MonthOverview projects the current month without writing anything.
func (s *ReportService) MonthOverview(ctx context.Context, userID string) (core.MonthOverview, error) {
	if strings.TrimSpace(userID) == "" {
		return core.MonthOverview{}, core.ErrEmptyUser
	}
	key := cacheKey(userID, "month", string(s.engine.CurrentMonth()))
	if s.overviews != nil {
		if v, ok := s.overviews.Get(key); ok {
			return v, nil
		}
	}

	ov, err := s.engine.MonthOverview(ctx, userID)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("month overview: %w", err)
	}
	if s.overviews != nil {
		s.overviews.Set(key, ov)
	}
	return ov, nil
}

func (s *ReportService) YearOverview(ctx context.Context, userID string, year int) (core.YearOverview, error) {
	if strings.TrimSpace(userID) == "" {
		return core.YearOverview{}, core.ErrEmptyUser
	}
	if year < 1 || year > 9999 {
		return core.YearOverview{}, fmt.Errorf("year %d: %w", year, core.ErrInvalidMonthKey)
	}
	key := cacheKey(userID, "year", fmt.Sprint(year))
	if s.years != nil {
		if v, ok := s.years.Get(key); ok {
			return v, nil
		}
	}

	ov, err := s.engine.YearOverview(ctx, userID, year)
	if err != nil {
		return core.YearOverview{}, fmt.Errorf("year overview: %w", err)
	}
	if s.years != nil {
		s.years.Set(key, ov)
	}
	return ov, nil
}

func (s *ReportService) DailyTrend(ctx context.Context, userID string, month core.MonthKey) ([]core.DailyAmount, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, core.ErrEmptyUser
	}
	if err := month.Validate(); err != nil {
		return nil, err
	}
	key := cacheKey(userID, "trend", string(month))
	if s.trends != nil {
		if v, ok := s.trends.Get(key); ok {
			return v, nil
		}
	}

	trend, err := s.engine.DailyTrend(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("daily trend: %w", err)
	}
	if s.trends != nil {
		s.trends.Set(key, trend)
	}
	return trend, nil
}

// Invalidate drops every cached projection of userID.
func (s *ReportService) Invalidate(userID string) {
	if s.overviews == nil {
		return
	}
	prefix := userID + "|"
	n := s.overviews.DeletePrefix(prefix) + s.years.DeletePrefix(prefix) + s.trends.DeletePrefix(prefix)
	if n > 0 {
		s.logger.Debug("Report cache invalidated", log.FieldUserID, userID, log.FieldCount, n)
	}
}
