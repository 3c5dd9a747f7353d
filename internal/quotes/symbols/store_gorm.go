package symbols

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/metrics"
	"quotehub.com/pkg/xerr"
)

// CacheRow 一个 (exchange, market_type) 一行，payload 存整份 JSON
type CacheRow struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Exchange   string    `gorm:"column:exchange;type:varchar(32);not null;uniqueIndex:uk_exchange_market"`
	MarketType string    `gorm:"column:market_type;type:varchar(16);not null;uniqueIndex:uk_exchange_market"`
	Payload    string    `gorm:"column:payload;type:longtext;not null"`
	Count      int       `gorm:"column:symbol_count;not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CacheRow) TableName() string {
	return "market_symbol_caches"
}

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&CacheRow{})
}

func (s *GormStore) Get(ctx context.Context, exchange string, market topic.MarketType) (infos []model.SymbolInfo, ok bool, err error) {
	start := time.Now()
	defer func() { metrics.ObserveDB("symbol_cache_get", start, err) }()

	var row CacheRow
	err = s.db.WithContext(ctx).
		Where("exchange = ? AND market_type = ?", exchange, string(market)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerr.Wrap(xerr.DbError, err)
	}
	if !s.now().Before(row.ExpiresAt) {
		return nil, false, nil
	}
	if err = json.Unmarshal([]byte(row.Payload), &infos); err != nil {
		return nil, false, xerr.Wrap(xerr.DbError, err)
	}
	return infos, true, nil
}

// Set 按 (exchange, market_type) upsert
func (s *GormStore) Set(ctx context.Context, exchange string, market topic.MarketType, infos []model.SymbolInfo, ttl time.Duration) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveDB("symbol_cache_set", start, err) }()

	b, err := json.Marshal(infos)
	if err != nil {
		return err
	}
	row := CacheRow{
		Exchange:   exchange,
		MarketType: string(market),
		Payload:    string(b),
		Count:      len(infos),
		ExpiresAt:  s.now().Add(ttl),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exchange"}, {Name: "market_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "symbol_count", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return xerr.Wrap(xerr.DbError, err)
	}
	return nil
}
