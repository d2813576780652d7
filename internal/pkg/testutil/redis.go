// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/SectionsStack/internal/pkg/cache"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

// resolveRedis finds a reachable Redis endpoint or skips the test.
func resolveRedis(t *testing.T) (string, string) {
	t.Helper()

	hosts := uniq(env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1")
	ports := uniq(env.GetEnv("CACHE_PORT", "6379"), "6379")
	passwords := []string{env.GetEnv("CACHE_PASSWORD", "")}
	if passwords[0] != "" {
		passwords = append(passwords, "")
	}

	var lastErr error
	for _, host := range hosts {
		for _, port := range ports {
			for _, password := range passwords {
				addr := fmt.Sprintf("%s:%s", host, port)
				client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_, err := client.Ping(ctx).Result()
				cancel()
				_ = client.Close()
				if err == nil {
					return addr, password
				}
				lastErr = err
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return "", ""
}

// IsolatedRedis returns a client on a flushed Redis DB and installs it as the
// shared cache client for the duration of the test.
func IsolatedRedis(t *testing.T, db int) *redis.Client {
	t.Helper()

	addr, password := resolveRedis(t)
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: flush of db %d failed (%v)", db, err)
	}

	cache.SetClient(client)
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
		cache.SetClient(nil)
	})
	return client
}

func uniq(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
