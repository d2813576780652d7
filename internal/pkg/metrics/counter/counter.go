package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/cache"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/database"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const sectionInstallsKey = "section:counters:installs"

// AddSectionInstall increments the pending install counter for a section in Redis
func AddSectionInstall(ctx context.Context, sectionID string) error {
	if !models.IsValidSectionID(sectionID) {
		return fmt.Errorf("invalid section id %q", sectionID)
	}
	return cache.GetClient().HIncrBy(ctx, sectionInstallsKey, strings.ToLower(sectionID), 1).Err()
}

// FlushAll applies all pending counters to the database.
func FlushAll(ctx context.Context) error {
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return flushHashToTable(ctx, cache.GetClient(), db, sectionInstallsKey, "sections", "download_count")
}

// flushHashToTable drains a Redis hash and applies batched increments.
// RENAME to a temporary key makes the drain atomic without losing in-flight
// increments.
func flushHashToTable(ctx context.Context, rdb *redis.Client, db *gorm.DB, redisKey, table, column string) error {
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Rename(ctx, redisKey, tmpKey).Err(); err != nil {
		if err == redis.Nil || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	sql, args := buildIncrementSQL(table, column, data)
	if sql == "" {
		return nil
	}
	return db.WithContext(ctx).Exec(sql, args...).Error
}

// buildIncrementSQL composes
//
//	UPDATE <table> SET <column> = <column> + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
//
// for the valid, non-zero entries of data, sorted by id for stable SQL.
func buildIncrementSQL(table, column string, data map[string]string) (string, []interface{}) {
	type pair struct {
		id  string
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		if !models.IsValidSectionID(k) {
			continue
		}
		inc, err := strconv.ParseInt(v, 10, 64)
		if err != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: k, inc: inc})
	}
	if len(pairs) == 0 {
		return "", nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	var b strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	b.WriteString("UPDATE ")
	b.WriteString(table)
	b.WriteString(" SET ")
	b.WriteString(column)
	b.WriteString(" = ")
	b.WriteString(column)
	b.WriteString(" + CASE id")
	for _, p := range pairs {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	b.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
		args = append(args, p.id)
	}
	b.WriteString(")")
	return b.String(), args
}

// Pending returns the not yet flushed install count of a section.
func Pending(ctx context.Context, sectionID string) (int64, error) {
	n, err := cache.GetClient().HGet(ctx, sectionInstallsKey, strings.ToLower(sectionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
