package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Blob is the table row for DBStore
type Blob struct {
	Key       string `gorm:"primaryKey;size:512"`
	Data      []byte
	UpdatedAt time.Time
}

// TableName pins the table name
func (Blob) TableName() string {
	return "form_blobs"
}

// DBStore keeps blobs in a SQL table through gorm
type DBStore struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the blob table
func OpenPostgres(dsn string, debug bool) (*DBStore, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to connect to database: %w", err)
	}
	return NewDBStore(db)
}

// NewDBStore uses an existing connection and migrates the blob table
func NewDBStore(db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&Blob{}); err != nil {
		return nil, fmt.Errorf("storage: failed to migrate blob table: %w", err)
	}
	return &DBStore{db: db}, nil
}

// LoadBytes reads the blob at key
func (s *DBStore) LoadBytes(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	var blob Blob
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load %s: %w", key, err)
	}
	return blob.Data, nil
}

// SaveBytes upserts the blob inside a transaction
func (s *DBStore) SaveBytes(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		blob := Blob{Key: key, Data: data, UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&blob).Error; err != nil {
			return fmt.Errorf("storage: failed to save %s: %w", key, err)
		}
		return nil
	})
}

// List returns the keys under prefix in lexical order
func (s *DBStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := s.db.WithContext(ctx).Model(&Blob{}).Order("key")
	if prefix != "" {
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
		q = q.Where("key LIKE ?", escaped+"%")
	}
	if err := q.Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list %q: %w", prefix, err)
	}
	return keys, nil
}
