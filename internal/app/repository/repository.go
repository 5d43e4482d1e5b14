package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/brightlane/portal/internal/app/config"
	"github.com/brightlane/portal/internal/app/ds"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrUserNotFound         = errors.New("пользователь не найден")
	ErrCategoryNotFound     = errors.New("категория не найдена")
	ErrCategoryInUse        = errors.New("в категории есть услуги")
	ErrServiceNotFound      = errors.New("услуга не найдена")
	ErrAddOnNotFound        = errors.New("дополнение не найдено")
	ErrProjectNotFound      = errors.New("проект не найден")
	ErrInvalidTransition    = errors.New("недопустимый переход статуса")
	ErrQuoteLocked          = errors.New("КП уже нельзя изменить")
	ErrPaymentNotFound      = errors.New("платёж не найден")
	ErrCheckoutInProgress   = errors.New("по проекту уже открыта оплата")
	ErrSubscriptionNotFound = errors.New("подписка не найдена")
	ErrTicketNotFound       = errors.New("тикет не найден")
	ErrTicketUpdateNotFound = errors.New("запись тикета не найдена")
	ErrAttachmentNotFound   = errors.New("вложение не найдено")
)

type Repository struct {
	db *gorm.DB
}

func New(dsn string, pool config.DBConfig) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db.DB(): %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if pool.AutoMigrate {
		if err := ds.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return &Repository{db: db}, nil
}

// NewFromDB оборачивает уже открытое соединение (миграции, тесты, reconcile)
func NewFromDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Ping проверяет соединение с БД
func (r *Repository) Ping() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
