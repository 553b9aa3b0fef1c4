package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethaccount/paymaster/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
)

var ErrSponsorshipNotFound = errors.New("sponsorship not found")

// SponsorshipCache keeps issued sponsorships in Redis, keyed by userOpHash,
// until their validity window closes.
type SponsorshipCache struct {
	redis  *redis.Client
	prefix string
}

func NewSponsorshipCache(redis *redis.Client, prefix string) *SponsorshipCache {
	return &SponsorshipCache{
		redis:  redis,
		prefix: prefix,
	}
}

func (r *SponsorshipCache) key(userOpHash common.Hash) string {
	return fmt.Sprintf("%s:%s", r.prefix, userOpHash.Hex())
}

// PutSponsorship stores s with the given expiration. A non-positive ttl keeps
// the entry until it is deleted.
func (r *SponsorshipCache) PutSponsorship(ctx context.Context, s *domain.Sponsorship, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sponsorship: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return r.redis.Set(ctx, r.key(s.UserOpHash), data, ttl).Err()
}

func (r *SponsorshipCache) GetSponsorship(ctx context.Context, userOpHash common.Hash) (*domain.Sponsorship, error) {
	data, err := r.redis.Get(ctx, r.key(userOpHash)).Result()
	if err == redis.Nil {
		return nil, ErrSponsorshipNotFound
	}
	if err != nil {
		return nil, err
	}

	var s domain.Sponsorship
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sponsorship: %w", err)
	}
	return &s, nil
}
