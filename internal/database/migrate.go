// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationStatus はマイグレーション適用前後のスキーマバージョン。
// Before が0の場合は未適用のデータベースを表す。
type MigrationStatus struct {
	Before  uint
	After   uint
	Changed bool
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// ApplyMigrations は未適用のマイグレーションをすべて適用し、前後のバージョンを返す。
// dirty状態のデータベースには適用せずエラーを返す。
func ApplyMigrations(databaseURL string) (MigrationStatus, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()

	before, err := schemaVersion(m)
	if err != nil {
		return MigrationStatus{}, err
	}

	status := MigrationStatus{Before: before, After: before}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return status, nil
		}
		return status, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := schemaVersion(m)
	if err != nil {
		return status, err
	}
	status.After = after
	status.Changed = after != before
	return status, nil
}

// RunMigrations はすべてのマイグレーションを適用する。すでに最新の場合はnilを返す。
func RunMigrations(databaseURL string) error {
	_, err := ApplyMigrations(databaseURL)
	return err
}

func schemaVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty; fix it manually before migrating", version)
	}
	return version, nil
}
