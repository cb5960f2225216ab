package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ResponseCache shares raw backend responses between API instances.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func New(ctx context.Context, opts Options) (*ResponseCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, opts.TTL), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{client: client, ttl: ttl, now: time.Now}
}

func (c *ResponseCache) Put(ctx context.Context, uploadID string, raw []byte) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, responseKey(uploadID), raw, c.ttl)
	pipe.HSet(ctx, metaKey(uploadID),
		"stored_at", strconv.FormatInt(c.now().Unix(), 10),
		"size", strconv.Itoa(len(raw)),
	)
	pipe.Expire(ctx, metaKey(uploadID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.WrapError(domain.ErrTemporary, "redis put response", err)
	}
	return nil
}

func (c *ResponseCache) Get(ctx context.Context, uploadID string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, responseKey(uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrTemporary, "redis get response", err)
	}
	return raw, true, nil
}

func (c *ResponseCache) Delete(ctx context.Context, uploadID string) error {
	if err := c.client.Del(ctx, responseKey(uploadID), metaKey(uploadID)).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "redis delete response", err)
	}
	return nil
}

func (c *ResponseCache) Close() error {
	return c.client.Close()
}

func responseKey(uploadID string) string { return fmt.Sprintf("upload:response:%s", uploadID) }
func metaKey(uploadID string) string     { return fmt.Sprintf("upload:response:%s:meta", uploadID) }
