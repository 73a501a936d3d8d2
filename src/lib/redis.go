package lib

import (
	"context"
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var redisClient *redis.Client

func GetRedisClient() *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	redisHost := config.Get().RedisHost
	if redisHost == "" {
		return nil
	}
	opt, err := redis.ParseURL(redisHost)
	if err != nil {
		GetLogger().Error("[redis] Error parsing connection string", zap.Error(err))
		return nil
	}
	rdb := redis.NewClient(opt)
	redisClient = rdb
	return rdb
}

// NewRedisClient Replace redis instance with custom client implementation
func NewRedisClient(c *redis.Client) *redis.Client {
	redisClient = c
	return redisClient
}

const requestKeyPrefix = "booking:request:"

// RequestStore claims booking request ids so a retried submit cannot create a
// second booking while the first is in flight or after it committed.
type RequestStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRequestStore(client redis.Cmdable, ttl time.Duration) *RequestStore {
	return &RequestStore{client: client, ttl: ttl}
}

func (s *RequestStore) Claim(ctx context.Context, requestID string) (bool, error) {
	return s.client.SetNX(ctx, requestKeyPrefix+requestID, "pending", s.ttl).Result()
}

func (s *RequestStore) Complete(ctx context.Context, requestID string, bookingID uint) error {
	return s.client.Set(ctx, requestKeyPrefix+requestID, bookingID, s.ttl).Err()
}

func (s *RequestStore) Release(ctx context.Context, requestID string) error {
	return s.client.Del(ctx, requestKeyPrefix+requestID).Err()
}
