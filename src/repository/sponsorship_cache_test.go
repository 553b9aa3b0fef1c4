package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ethaccount/paymaster/src/domain"
	"github.com/ethaccount/paymaster/src/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSponsorshipCache(t *testing.T) {
	rdb := testutil.SetupTestRedis(t)
	ctx := context.Background()

	// unique prefix so parallel runs do not collide
	cache := NewSponsorshipCache(rdb, "test:sponsorship:"+uuid.NewString())

	s := &domain.Sponsorship{
		UserOpHash:    crypto.Keccak256Hash([]byte("user op")),
		Hash:          crypto.Keccak256Hash([]byte("binding")),
		Sender:        common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Sponsor:       testSponsor,
		ValidAfter:    100,
		ValidUntil:    200,
		PaymasterData: []byte{0x01, 0x02},
		IssuedAt:      time.Unix(1700000000, 0).UTC(),
	}

	_, err := cache.GetSponsorship(ctx, s.UserOpHash)
	assert.ErrorIs(t, err, ErrSponsorshipNotFound)

	require.NoError(t, cache.PutSponsorship(ctx, s, time.Minute))

	got, err := cache.GetSponsorship(ctx, s.UserOpHash)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	ttl, err := rdb.TTL(ctx, cache.key(s.UserOpHash)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, rdb.Del(ctx, cache.key(s.UserOpHash)).Err())
}
