package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/go-redis/redis/v8"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/repository"
	"restaurant-service/internal/validation"
	"time"
)

// itemCache is the part of a Redis client the catalog uses.
type itemCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CatalogService reads items through a Redis cache. Without a Redis client every read goes to
// the repository.
//
// Status changes made through SetItemStatus and SetVariationStatus drop the cached copy at
// once. A change written to the database by any other path is seen only after the cached copy
// expires, at most ttl later.
type CatalogService struct {
	catalogRepo repository.CatalogRepository
	rdb         itemCache
	ttl         time.Duration
}

func NewCatalogService(catalogRepo repository.CatalogRepository, rdb *redis.Client, ttl time.Duration) *CatalogService {
	s := &CatalogService{
		catalogRepo: catalogRepo,
		ttl:         ttl,
	}
	if rdb != nil {
		s.rdb = rdb
	}
	return s
}

func itemKey(id string) string {
	return fmt.Sprintf("item:%s", id)
}

// GetItem returns the item with its variations and categories.
func (s *CatalogService) GetItem(ctx context.Context, id string) (*entity.Item, error) {
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, itemKey(id)).Result()
		switch {
		case err == nil:
			var item entity.Item
			uerr := json.Unmarshal([]byte(cached), &item)
			if uerr == nil {
				return &item, nil
			}
			logger.Error().Err(uerr).Msgf("Error unmarshalling cached item %s", id)
		case errors.Is(err, redis.Nil):
			logger.Debug().Msgf("Item %s not found in cache", id)
		default:
			// A cache outage degrades to direct reads.
			logger.Error().Err(err).Msgf("Error getting item %s from cache", id)
		}
	}

	item, err := s.catalogRepo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, item)
	return item, nil
}

func (s *CatalogService) cache(ctx context.Context, item *entity.Item) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(item)
	if err != nil {
		logger.Error().Err(err).Msgf("Error marshalling item %s", item.ID)
		return
	}
	if err := s.rdb.Set(ctx, itemKey(item.ID), data, s.ttl).Err(); err != nil {
		logger.Error().Err(err).Msgf("Error setting item %s in cache", item.ID)
	}
}

// GetVariation resolves a variation through its cached parent item.
func (s *CatalogService) GetVariation(ctx context.Context, itemID, variationID string) (*entity.Variation, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	for i := range item.Variations {
		if item.Variations[i].ID == variationID {
			return &item.Variations[i], nil
		}
	}
	// Not on this item: ask the repository so a stale cache cannot hide a new variation.
	v, err := s.catalogRepo.GetVariation(ctx, variationID)
	if err != nil {
		return nil, err
	}
	if v.ItemID != itemID {
		return nil, fmt.Errorf("variation %s belongs to item %s: %w", variationID, v.ItemID, errVariationMismatch)
	}
	s.Invalidate(ctx, itemID)
	return v, nil
}

// SetItemStatus marks an item AVAILABLE or UNAVAILABLE and returns it as orders will now see it.
func (s *CatalogService) SetItemStatus(ctx context.Context, itemID string, status entity.ItemStatus) (*entity.Item, error) {
	if err := checkItemStatus(status); err != nil {
		return nil, err
	}
	if err := s.catalogRepo.UpdateItemStatus(ctx, itemID, status); err != nil {
		logger.Error().Err(err).Msgf("Error setting item %s to %s", itemID, status)
		return nil, err
	}
	s.Invalidate(ctx, itemID)
	logger.Info().Msgf("Item %s is now %s", itemID, status)
	return s.GetItem(ctx, itemID)
}

// SetVariationStatus is SetItemStatus for one variation of an item.
func (s *CatalogService) SetVariationStatus(ctx context.Context, itemID, variationID string, status entity.ItemStatus) (*entity.Item, error) {
	if err := checkItemStatus(status); err != nil {
		return nil, err
	}
	if err := s.catalogRepo.UpdateVariationStatus(ctx, itemID, variationID, status); err != nil {
		logger.Error().Err(err).Msgf("Error setting variation %s of item %s to %s", variationID, itemID, status)
		return nil, err
	}
	s.Invalidate(ctx, itemID)
	logger.Info().Msgf("Variation %s of item %s is now %s", variationID, itemID, status)
	return s.GetItem(ctx, itemID)
}

func checkItemStatus(status entity.ItemStatus) error {
	return validation.Check("invalid status update",
		validation.OneOf("status", string(status), string(entity.ItemAvailable), string(entity.ItemUnavailable)),
	)
}

// Invalidate drops an item from the cache.
func (s *CatalogService) Invalidate(ctx context.Context, id string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, itemKey(id)).Err(); err != nil {
		logger.Error().Err(err).Msgf("Error deleting item %s from cache", id)
	}
}

// PreWarmCache loads every live item into the cache.
func (s *CatalogService) PreWarmCache(ctx context.Context) error {
	items, err := s.catalogRepo.GetItems(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Error getting items")
		return err
	}
	for _, item := range items {
		s.cache(ctx, item)
	}
	logger.Info().Msgf("Pre-warmed cache with %d items", len(items))
	return nil
}
