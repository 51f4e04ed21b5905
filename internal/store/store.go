// 包 store: 提供与 PostgreSQL 的数据访问层，包含归属地缓存读写与解析统计
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"dmarc-geo/internal/cache"
	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/logger"
)

// Store: 数据库访问入口，持有连接池并实现缓存契约与统计接口
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return &Store{db: db}, nil
}

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Find: 按地址读取缓存记录；无行返回 (nil, nil)
func (s *Store) Find(ctx context.Context, address string) (*cache.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT country_code, country_name, region_code, region_name,
        city, latitude, longitude, timezone, isp, org, asn, created_at
        FROM _geo_ip_cache WHERE address=$1`, address)
	var l geodata.LocationData
	var createdAt time.Time
	err := row.Scan(&l.CountryCode, &l.CountryName, &l.RegionCode, &l.RegionName,
		&l.City, &l.Latitude, &l.Longitude, &l.Timezone, &l.ISP, &l.Org, &l.ASN, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.L().Debug("store_cache_hit", "address", address, "created_at", createdAt)
	return &cache.Entry{Address: address, Location: l, CreatedAt: createdAt}, nil
}

// Upsert: 以地址为冲突键覆盖写缓存记录
func (s *Store) Upsert(ctx context.Context, e *cache.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	l := e.Location
	_, err := s.db.ExecContext(ctx, `INSERT INTO _geo_ip_cache(address, country_code, country_name,
        region_code, region_name, city, latitude, longitude, timezone, isp, org, asn, created_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (address) DO UPDATE SET country_code=EXCLUDED.country_code,
        country_name=EXCLUDED.country_name, region_code=EXCLUDED.region_code,
        region_name=EXCLUDED.region_name, city=EXCLUDED.city, latitude=EXCLUDED.latitude,
        longitude=EXCLUDED.longitude, timezone=EXCLUDED.timezone, isp=EXCLUDED.isp,
        org=EXCLUDED.org, asn=EXCLUDED.asn, created_at=EXCLUDED.created_at`,
		e.Address, l.CountryCode, l.CountryName, l.RegionCode, l.RegionName,
		l.City, l.Latitude, l.Longitude, l.Timezone, l.ISP, l.Org, l.ASN, e.CreatedAt)
	return err
}

// IncrStats: 每次成功解析后递增总计与当日计数
func (s *Store) IncrStats(ctx context.Context) error {
	_, _ = s.db.ExecContext(ctx, "UPDATE _geo_stats_total SET total_resolves=total_resolves+1 WHERE id=1")
	_, _ = s.db.ExecContext(ctx, "INSERT INTO _geo_stats_daily(day, resolves) VALUES(current_date, 1) ON CONFLICT (day) DO UPDATE SET resolves=_geo_stats_daily.resolves+1")
	return nil
}

// Totals: 统计返回结构，包含累计与当日解析次数
type Totals struct {
	Total int64
	Today int64
}

// GetTotals: 读取累计与当日解析次数，用于接口返回
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	row := s.db.QueryRowContext(ctx, "SELECT total_resolves FROM _geo_stats_total WHERE id=1")
	_ = row.Scan(&t.Total)
	row2 := s.db.QueryRowContext(ctx, "SELECT resolves FROM _geo_stats_daily WHERE day=current_date")
	_ = row2.Scan(&t.Today)
	logger.L().Debug("stats_totals", "total", t.Total, "today", t.Today)
	return &t, nil
}
