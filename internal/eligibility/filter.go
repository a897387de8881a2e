package eligibility

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/cache"
	"github.com/lumacorp/industry-exporter/internal/esi"
	"github.com/lumacorp/industry-exporter/pkg/model"
)

const (
	marketSetKey  = "sde:market_order_type_ids"
	ownedSetKey   = "sde:corp_blueprint_type_ids"
	skillsKeyBase = "sde:character_skills"
)

// Upstream is the subset of the ESI client the filter needs.
type Upstream interface {
	Identity(ctx context.Context) (characterID, corporationID int64, err error)
	RegionOrders(ctx context.Context, regionID, typeID int64, orderType string, page int) ([]esi.Order, error)
	CorpBlueprints(ctx context.Context, corporationID int64, page int) ([]esi.Blueprint, error)
	CharacterSkills(ctx context.Context, characterID int64) ([]esi.Skill, error)
}

// Config holds the filter's cache TTLs and pagination ceiling.
type Config struct {
	RegionID  int64
	MarketTTL time.Duration
	OwnedTTL  time.Duration
	SkillsTTL time.Duration
	MaxPages  int
}

// Service narrows the catalog to items whose blueprint is obtainable and
// whose skill prerequisites the authenticated character satisfies. The
// membership sets live in the shared cache; the service only ever reads a
// snapshot of them.
type Service struct {
	logger *zap.Logger
	api    Upstream
	cache  *cache.Cache
	cfg    Config
}

// New constructs the eligibility filter.
func New(logger *zap.Logger, api Upstream, c *cache.Cache, cfg Config) *Service {
	return &Service{logger: logger, api: api, cache: c, cfg: cfg}
}

// FilterMarket returns the items whose blueprint is currently sold on the
// market and whose skill prerequisites are met.
func (s *Service) FilterMarket(ctx context.Context, items []model.CatalogItem) ([]model.CatalogItem, error) {
	available, err := s.MarketSet(ctx)
	if err != nil {
		return nil, err
	}
	skills, err := s.Skills(ctx)
	if err != nil {
		return nil, err
	}

	eligible := filterByMembership(items, available, skills)
	s.logger.Info("eligibility.market_filtered",
		zap.Int("total", len(items)),
		zap.Int("eligible", len(eligible)))
	return eligible, nil
}

// FilterOwned returns the items whose blueprint the corporation holds and
// whose skill prerequisites are met. The ownership set is always refreshed
// first: staleness here would hide freshly acquired blueprints.
func (s *Service) FilterOwned(ctx context.Context, items []model.CatalogItem) ([]model.CatalogItem, error) {
	owned, err := s.ownedSet(ctx, true)
	if err != nil {
		return nil, err
	}
	skills, err := s.Skills(ctx)
	if err != nil {
		return nil, err
	}

	eligible := filterByMembership(items, owned, skills)
	s.logger.Info("eligibility.owned_filtered",
		zap.Int("total", len(items)),
		zap.Int("eligible", len(eligible)))
	return eligible, nil
}

func filterByMembership(items []model.CatalogItem, members map[int64]struct{}, skills map[int64]int) []model.CatalogItem {
	eligible := make([]model.CatalogItem, 0, len(items))
	for _, item := range items {
		if _, ok := members[item.BlueprintID]; !ok {
			continue
		}
		if !HasRequiredSkills(item, skills) {
			continue
		}
		eligible = append(eligible, item)
	}
	return eligible
}

// HasRequiredSkills reports whether every skill prerequisite of item is held
// at or above the required level. An item with no prerequisites passes.
func HasRequiredSkills(item model.CatalogItem, held map[int64]int) bool {
	for _, req := range item.Skills {
		level, ok := held[req.SkillID]
		if !ok || level < req.Level {
			return false
		}
	}
	return true
}

// MarketSet returns the set of type ids with at least one open sell order in
// the configured region, from cache when fresh.
func (s *Service) MarketSet(ctx context.Context) (map[int64]struct{}, error) {
	if ids, ok := s.cachedSet(ctx, marketSetKey); ok {
		return ids, nil
	}

	set := make(map[int64]struct{})
	for page := 1; page <= s.cfg.MaxPages; page++ {
		orders, err := s.api.RegionOrders(ctx, s.cfg.RegionID, 0, "sell", page)
		if esi.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("market set page %d: %w", page, err)
		}
		if len(orders) == 0 {
			break
		}
		for _, order := range orders {
			set[order.TypeID] = struct{}{}
		}
	}

	s.storeSet(ctx, marketSetKey, set, s.cfg.MarketTTL)
	s.logger.Info("eligibility.market_set_refreshed", zap.Int("types", len(set)))
	return set, nil
}

// OwnedSet returns the set of blueprint type ids held by the corporation,
// from cache when fresh.
func (s *Service) OwnedSet(ctx context.Context) (map[int64]struct{}, error) {
	return s.ownedSet(ctx, false)
}

func (s *Service) ownedSet(ctx context.Context, force bool) (map[int64]struct{}, error) {
	if !force {
		if ids, ok := s.cachedSet(ctx, ownedSetKey); ok {
			return ids, nil
		}
	}

	_, corporationID, err := s.api.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("owned set identity: %w", err)
	}

	set := make(map[int64]struct{})
	for page := 1; page <= s.cfg.MaxPages; page++ {
		blueprints, err := s.api.CorpBlueprints(ctx, corporationID, page)
		if esi.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("owned set page %d: %w", page, err)
		}
		if len(blueprints) == 0 {
			break
		}
		for _, bp := range blueprints {
			set[bp.TypeID] = struct{}{}
		}
	}

	s.storeSet(ctx, ownedSetKey, set, s.cfg.OwnedTTL)
	s.logger.Info("eligibility.owned_set_refreshed", zap.Int("blueprints", len(set)))
	return set, nil
}

// Skills returns the character's held skills as an id to level map, from
// cache when fresh.
func (s *Service) Skills(ctx context.Context) (map[int64]int, error) {
	characterID, _, err := s.api.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("skills identity: %w", err)
	}

	key := fmt.Sprintf("%s:%d", skillsKeyBase, characterID)

	var cached []model.SkillRequirement
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		s.logger.Warn("eligibility.skills_cache_read_failed", zap.Error(err))
	} else if ok {
		return skillMap(cached), nil
	}

	skills, err := s.api.CharacterSkills(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("character skills: %w", err)
	}

	held := make([]model.SkillRequirement, 0, len(skills))
	for _, sk := range skills {
		held = append(held, model.SkillRequirement{SkillID: sk.SkillID, Level: sk.ActiveSkillLevel})
	}

	if err := s.cache.SetJSON(ctx, key, held, s.cfg.SkillsTTL); err != nil {
		s.logger.Warn("eligibility.skills_cache_write_failed", zap.Error(err))
	}
	s.logger.Info("eligibility.skills_refreshed", zap.Int("skills", len(held)))
	return skillMap(held), nil
}

func skillMap(skills []model.SkillRequirement) map[int64]int {
	held := make(map[int64]int, len(skills))
	for _, sk := range skills {
		held[sk.SkillID] = sk.Level
	}
	return held
}

func (s *Service) cachedSet(ctx context.Context, key string) (map[int64]struct{}, bool) {
	var ids []int64
	ok, err := s.cache.GetJSON(ctx, key, &ids)
	if err != nil {
		s.logger.Warn("eligibility.set_cache_read_failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok || len(ids) == 0 {
		return nil, false
	}

	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, true
}

func (s *Service) storeSet(ctx context.Context, key string, set map[int64]struct{}, ttl time.Duration) {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	if err := s.cache.SetJSON(ctx, key, ids, ttl); err != nil {
		s.logger.Warn("eligibility.set_cache_write_failed", zap.String("key", key), zap.Error(err))
	}
}
