package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51730417

// EntryModel is the single table behind GormStore.
type EntryModel struct {
	Key       string     `gorm:"column:entry_key;primaryKey;size:512"`
	Value     []byte     `gorm:"not null"`
	Meta      []byte
	Version   int64      `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time  `gorm:"not null"`
}

func (EntryModel) TableName() string { return "kv_entries" }

// GormStore implements Store on a SQL database through GORM.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore opens Postgres and migrates the kv_entries table under an
// advisory lock so concurrent instances do not race the migration.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(&EntryModel{})
	}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// NewGormStoreWithDialector opens any GORM dialector and migrates without locking.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// live restricts a query to rows that have not expired.
func (s *GormStore) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("(expires_at IS NULL OR expires_at > ?)", s.now().UTC())
}

func (s *GormStore) find(ctx context.Context, key string) (EntryModel, bool, error) {
	var model EntryModel
	err := s.live(s.db.WithContext(ctx).Where("entry_key = ?", key)).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EntryModel{}, false, nil
	}
	if err != nil {
		return EntryModel{}, false, err
	}
	return model, true, nil
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	model, ok, err := s.find(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return model.Value, true, nil
}

func (s *GormStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	now := s.now().UTC()
	var expiresAt *time.Time
	if opts.TTL > 0 {
		t := now.Add(opts.TTL)
		expiresAt = &t
	}
	if value == nil {
		value = []byte{}
	}
	model := EntryModel{
		Key:       key,
		Value:     value,
		Meta:      opts.Meta,
		Version:   1,
		ExpiresAt: expiresAt,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      value,
			"meta":       opts.Meta,
			"expires_at": expiresAt,
			"updated_at": now,
			"version":    gorm.Expr("kv_entries.version + 1"),
		}),
	}).Create(&model).Error
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&EntryModel{}).Error
}

func (s *GormStore) GetVersioned(ctx context.Context, key string) ([]byte, string, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	model, ok, err := s.find(ctx, key)
	if err != nil || !ok {
		return nil, "", false, err
	}
	return model.Value, strconv.FormatInt(model.Version, 10), true, nil
}

func (s *GormStore) PutIfVersion(ctx context.Context, key string, value []byte, version string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	now := s.now().UTC()
	if value == nil {
		value = []byte{}
	}
	db := s.db.WithContext(ctx)

	if version == "" {
		// Expired rows count as absent.
		if err := db.Where("entry_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, now).
			Delete(&EntryModel{}).Error; err != nil {
			return err
		}
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&EntryModel{
			Key:       key,
			Value:     value,
			Version:   1,
			UpdatedAt: now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	}

	expected, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return ErrVersionConflict
	}
	res := s.live(db.Model(&EntryModel{}).Where("entry_key = ? AND version = ?", key, expected)).
		Updates(map[string]any{
			"value":      value,
			"version":    expected + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	limit := normalizeLimit(opts.Limit)

	tx := s.db.WithContext(ctx).Model(&EntryModel{}).Select("entry_key", "meta")
	if opts.Prefix != "" {
		tx = tx.Where(`entry_key LIKE ? ESCAPE '\'`, escapeLike(opts.Prefix)+"%")
	}
	if opts.Cursor != "" {
		tx = tx.Where("entry_key > ?", opts.Cursor)
	}
	var models []EntryModel
	if err := s.live(tx).Order("entry_key ASC").Limit(limit + 1).Find(&models).Error; err != nil {
		return ListResult{}, err
	}

	res := ListResult{Complete: true}
	if len(models) > limit {
		models = models[:limit]
		res.Complete = false
	}
	res.Items = make([]Item, 0, len(models))
	for _, m := range models {
		res.Items = append(res.Items, Item{Key: m.Key, Meta: m.Meta})
	}
	if !res.Complete {
		res.Cursor = models[len(models)-1].Key
	}
	return res, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
