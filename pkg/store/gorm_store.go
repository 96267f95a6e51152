package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"edaagent/pkg/domain"
)

const migrateLockID int64 = 55541000

// GormStore implements Backend using GORM + Postgres.
type GormStore struct {
	db    *gorm.DB
	appID string
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock so
// concurrent replicas do not race on schema changes.
func NewGormStore(dsn, appID string) (*GormStore, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, errors.New("app id required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DesignModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, appID: appID}, nil
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

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertDesign writes a new record; existing ids are never overwritten.
func (s *GormStore) InsertDesign(ctx context.Context, rec domain.DesignRecord) error {
	model, err := designToModel(s.appID, rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetDesign looks up one record owned by userID.
func (s *GormStore) GetDesign(ctx context.Context, userID, id string) (domain.DesignRecord, bool, error) {
	var model DesignModel
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND user_id = ? AND id = ?", s.appID, userID, id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DesignRecord{}, false, nil
		}
		return domain.DesignRecord{}, false, err
	}
	rec, err := designFromModel(model)
	if err != nil {
		return domain.DesignRecord{}, false, err
	}
	return rec, true, nil
}

// ListDesigns returns the user's records, newest first.
func (s *GormStore) ListDesigns(ctx context.Context, userID string) ([]domain.DesignRecord, error) {
	var models []DesignModel
	if err := s.db.WithContext(ctx).
		Where("app_id = ? AND user_id = ?", s.appID, userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.DesignRecord, 0, len(models))
	for _, m := range models {
		rec, err := designFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
