package providers

import (
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func NewRedisProvider(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

// NewEmbeddedRedis starts an in-process Redis and returns a client bound to
// it. The caller closes both.
func NewEmbeddedRedis() (*miniredis.Miniredis, *redis.Client, error) {
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	return mr, NewRedisProvider(mr.Addr(), ""), nil
}
