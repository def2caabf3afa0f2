package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/echolearn/internal/config"
	"github.com/hitoshi/echolearn/internal/database"
	"github.com/hitoshi/echolearn/internal/handler"
	"github.com/hitoshi/echolearn/internal/repository"
	"github.com/hitoshi/echolearn/internal/session"
)

// backends は設定に応じて選択した永続化先をまとめたもの。
type backends struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	ownership  repository.OwnershipRepository
	sessions   session.Store

	healthChecks map[string]handler.HealthChecker
	closers      []func()
}

// openBackends はユーザーディレクトリとセッションストアの接続を開く。
// 途中で失敗した場合は開いた接続をすべて閉じてからエラーを返す。
func openBackends(ctx context.Context, cfg *config.Config) (_ *backends, err error) {
	b := &backends{healthChecks: make(map[string]handler.HealthChecker)}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	var db *sql.DB
	if cfg.DirectoryBackend == config.BackendPostgres || cfg.SessionBackend == config.BackendPostgres {
		db, err = openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { db.Close() })
		b.healthChecks["postgres"] = db
	}

	switch cfg.DirectoryBackend {
	case config.BackendMongo:
		client, mdb, err := repository.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { client.Disconnect(context.Background()) })
		b.healthChecks["mongo"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		})
		if err := repository.EnsureMongoIndexes(ctx, mdb); err != nil {
			return nil, fmt.Errorf("failed to ensure mongo indexes: %w", err)
		}
		b.users = repository.NewMongoUserRepo(mdb)
		b.identities = repository.NewMongoIdentityRepo(mdb)
		b.ownership = repository.NewMongoOwnershipRepo(mdb)
		slog.Info("user directory backend selected", slog.String("backend", "mongo"))
	default:
		b.users = repository.NewPostgresUserRepo(db)
		b.identities = repository.NewPostgresIdentityRepo(db)
		b.ownership = repository.NewPostgresOwnershipRepo(db)
		slog.Info("user directory backend selected", slog.String("backend", "postgres"))
	}

	switch cfg.SessionBackend {
	case config.BackendRedis:
		client, err := repository.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { client.Close() })
		b.healthChecks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		b.sessions = repository.NewRedisSessionRepo(client)
		slog.Info("session backend selected", slog.String("backend", "redis"))
	default:
		b.sessions = repository.NewPostgresSessionRepo(db)
		slog.Info("session backend selected", slog.String("backend", "postgres"))
	}

	return b, nil
}

// Close は開いた接続を逆順に閉じる。
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// openPostgres はPostgreSQLに接続し、疎通を確認する。
func openPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}
