package database

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"kb-tracker/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
)

// DB 全局数据库连接池
var DB *pgxpool.Pool

// InitDB 初始化数据库连接
func InitDB(ctx context.Context, cfg *config.Config) error {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("解析数据库连接配置失败: %w", err)
	}

	// 写入只发生在对局结束时，连接数不需要太多
	cpus := int32(runtime.NumCPU())
	poolConfig.MaxConns = max(4, cpus)
	poolConfig.MinConns = 1

	DB, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("创建数据库连接池失败: %w", err)
	}

	if err := DB.Ping(ctx); err != nil {
		return fmt.Errorf("数据库连接测试失败: %w", err)
	}

	slog.Info("数据库连接成功", "maxConns", poolConfig.MaxConns)
	return nil
}

// Migration 迁移文件
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// RunMigrations 执行 dir 下尚未应用的 .up.sql 迁移
func RunMigrations(ctx context.Context, fsys afero.Fs, dir string) error {
	if _, err := DB.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("创建迁移历史表失败: %w", err)
	}

	applied, err := appliedMigrations(ctx)
	if err != nil {
		return err
	}

	migrations, err := ReadMigrations(fsys, dir)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		slog.Info("执行迁移", "version", m.Version, "name", m.Name)
		err := pgx.BeginFunc(ctx, DB, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("执行迁移 %d_%s 失败: %w", m.Version, m.Name, err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
				m.Version, m.Name,
			); err != nil {
				return fmt.Errorf("记录迁移历史失败: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("迁移完成", "version", m.Version, "name", m.Name)
	}

	return nil
}

func appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := DB.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("读取迁移历史失败: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("读取迁移历史失败: %w", err)
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// ReadMigrations 读取迁移文件并按版本排序
// 文件名格式: 000001_init_schema.up.sql
func ReadMigrations(fsys afero.Fs, dir string) ([]Migration, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移版本 %d 重复: %s, %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := afero.ReadFile(fsys, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigrationName(filename string) (int, string, bool) {
	base, ok := strings.CutSuffix(filename, ".up.sql")
	if !ok {
		return 0, "", false
	}
	versionStr, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", false
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil || version <= 0 {
		return 0, "", false
	}
	return version, name, true
}

// Close 关闭数据库连接
func Close() {
	if DB != nil {
		DB.Close()
	}
}
