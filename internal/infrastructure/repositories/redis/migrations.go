package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	migrationLockKey     = keyPrefix + "lock:migrate"
	currentSchemaVersion = 1
)

// Migration represents a schema migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs all pending migrations. Instances starting together take
// turns through a Redis lock; later ones find the schema current.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	return distributed.WithLock(ctx, client, migrationLockKey, 30*time.Second, func(ctx context.Context) error {
		return migrate(ctx, client, logger)
	})
}

func migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Infow("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			// Rebuild the per-original indexes from the stored records.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				iter := client.Scan(ctx, 0, keyPrefix+"published:*", 100).Iterator()
				for iter.Next(ctx) {
					data, err := client.Get(ctx, iter.Val()).Bytes()
					if err == redis.Nil {
						continue
					}
					if err != nil {
						return err
					}
					var duet domain.PublishedDuet
					if err := json.Unmarshal(data, &duet); err != nil {
						continue
					}
					index := keyPrefix + "original:" + duet.OriginalVideoID + ":published"
					if err := client.ZAdd(ctx, index, redis.Z{
						Score:  float64(duet.PublishedAt.UnixMilli()),
						Member: string(duet.ID),
					}).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
		},
	}
}
