package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/brightlane/portal/internal/app/config"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source=minio.go -destination=mocks/mock_storage.go

var (
	ErrEmptyFile    = errors.New("файл пустой")
	ErrFileTooLarge = errors.New("файл слишком большой")
)

// Object - то, что сохранили в бакете
type Object struct {
	Key         string
	ContentType string
	Size        int64
}

// Storage - хранилище вложений тикетов
type Storage interface {
	Upload(ctx context.Context, ticketID uint, filename string, data []byte) (*Object, error)
	PresignedURL(ctx context.Context, key, filename string) (string, error)
	Delete(ctx context.Context, key string) error
}

type MinIOClient struct {
	client     *minio.Client
	bucketName string
	expiry     time.Duration
	maxSize    int64
}

// NewMinIOClient создает клиент для MinIO и бакет, если его ещё нет
func NewMinIOClient(ctx context.Context, cfg config.MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logrus.Infof("Bucket %s created successfully", cfg.Bucket)
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &MinIOClient{
		client:     client,
		bucketName: cfg.Bucket,
		expiry:     expiry,
		maxSize:    cfg.MaxUploadB,
	}, nil
}

// CheckSize проверяет размер файла; max <= 0 означает без ограничения
func CheckSize(size, max int64) error {
	if size == 0 {
		return ErrEmptyFile
	}
	if max > 0 && size > max {
		return fmt.Errorf("%w: %d > %d байт", ErrFileTooLarge, size, max)
	}
	return nil
}

// ObjectKey генерирует уникальное имя объекта на латинице, сохраняя расширение
func ObjectKey(ticketID uint, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return fmt.Sprintf("tickets/%d/%s%s", ticketID, uuid.New().String(), ext)
}

// DetectContentType определяет тип по содержимому, а не по расширению
func DetectContentType(data []byte) string {
	return mimetype.Detect(data).String()
}

func (m *MinIOClient) Upload(ctx context.Context, ticketID uint, filename string, data []byte) (*Object, error) {
	if err := CheckSize(int64(len(data)), m.maxSize); err != nil {
		return nil, err
	}

	obj := &Object{
		Key:         ObjectKey(ticketID, filename),
		ContentType: DetectContentType(data),
		Size:        int64(len(data)),
	}
	_, err := m.client.PutObject(ctx, m.bucketName, obj.Key, bytes.NewReader(data), obj.Size, minio.PutObjectOptions{
		ContentType: obj.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	logrus.Infof("File %s uploaded successfully", obj.Key)
	return obj, nil
}

// PresignedURL возвращает временную ссылку на скачивание под исходным именем файла
func (m *MinIOClient) PresignedURL(ctx context.Context, key, filename string) (string, error) {
	params := url.Values{}
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucketName, key, m.expiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

func (m *MinIOClient) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	logrus.Infof("File %s deleted successfully", key)
	return nil
}
