package migrate

import (
	"database/sql"

	"dmarc-geo/internal/logger"
)

// 背景：首次运行自动创建缓存表与统计表，保障后续读写
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _geo_ip_cache (
            address TEXT PRIMARY KEY,
            country_code TEXT NOT NULL DEFAULT '',
            country_name TEXT NOT NULL DEFAULT '',
            region_code TEXT NOT NULL DEFAULT '',
            region_name TEXT NOT NULL DEFAULT '',
            city TEXT NOT NULL DEFAULT '',
            latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
            longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
            timezone TEXT NOT NULL DEFAULT '',
            isp TEXT NOT NULL DEFAULT '',
            org TEXT NOT NULL DEFAULT '',
            asn INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_geo_cache_created ON _geo_ip_cache(created_at)`,
		`CREATE TABLE IF NOT EXISTS _geo_stats_total (
            id INT PRIMARY KEY,
            total_resolves BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS _geo_stats_daily (
            day DATE PRIMARY KEY,
            resolves BIGINT NOT NULL DEFAULT 0
        )`,
		`INSERT INTO _geo_stats_total(id, total_resolves)
         VALUES(1, 0)
         ON CONFLICT (id) DO NOTHING`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
