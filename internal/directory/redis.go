package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"stockcrawler/internal/models"
)

const defaultRedisKey = "stockcrawler:companies"

// RedisConfig selects the server and hash used by RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the directory in one hash: field = symbol, value = JSON company.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore dials cfg.Addr and checks the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("directory.redis_addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping redis", err)
	}
	return NewRedisStoreWithClient(client, cfg.Key), nil
}

// NewRedisStoreWithClient wraps an existing client (primarily for testing).
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) stagingKey() string { return s.key + ":staging" }

// Resolve implements Directory.
func (s *RedisStore) Resolve(ctx context.Context, symbols []string) (Resolution, error) {
	if WantsAll(symbols) {
		all, err := s.client.HGetAll(ctx, s.key).Result()
		if err != nil {
			return Resolution{}, unavailable("read companies", err)
		}
		companies := make([]models.Company, 0, len(all))
		for field, raw := range all {
			c, err := decodeCompany(field, raw)
			if err != nil {
				return Resolution{}, err
			}
			companies = append(companies, c)
		}
		return newIndex(companies).resolve(nil), nil
	}

	want := requested(symbols)
	if len(want) == 0 {
		return Resolution{Targets: []models.Target{}, Companies: []models.Company{}}, nil
	}
	vals, err := s.client.HMGet(ctx, s.key, want...).Result()
	if err != nil {
		return Resolution{}, unavailable("read companies", err)
	}
	companies := make([]models.Company, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		c, err := decodeCompany(want[i], raw)
		if err != nil {
			return Resolution{}, err
		}
		companies = append(companies, c)
	}
	return newIndex(companies).resolve(want), nil
}

func decodeCompany(field, raw string) (models.Company, error) {
	var c models.Company
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return models.Company{}, fmt.Errorf("decode company %s: %w", field, err)
	}
	if c.Symbol == "" {
		c.Symbol = field
	}
	return c, nil
}

// Replace builds the new hash under a staging key and renames it over the
// live key inside one MULTI/EXEC, so readers never see a partial list.
func (s *RedisStore) Replace(ctx context.Context, companies []models.Company) error {
	idx := newIndex(companies)
	if len(idx.sorted) == 0 {
		if err := s.client.Del(ctx, s.key).Err(); err != nil {
			return unavailable("clear companies", err)
		}
		return nil
	}

	values := make([]interface{}, 0, 2*len(idx.sorted))
	for _, c := range idx.sorted {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode company %s: %w", c.Symbol, err)
		}
		values = append(values, NormalizeSymbol(c.Symbol), string(raw))
	}

	staging := s.stagingKey()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, staging)
		pipe.HSet(ctx, staging, values...)
		pipe.Rename(ctx, staging, s.key)
		return nil
	})
	if err != nil {
		return unavailable("replace companies", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
