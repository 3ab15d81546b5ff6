// Package archive сохраняет отчёты завершённых runs в S3-совместимое
// хранилище (MinIO). Отчёт — run целиком в JSON: стадии, журнал outcomes,
// итоговый статус и причина.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// Config — параметры подключения к хранилищу.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("archive endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("archive bucket is required")
	}
	return nil
}

// objectPutter — часть minio.Client, нужная архиву.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Report — отчёт о run.
type Report struct {
	Run        *domain.Run   `json:"run"`
	Devices    int           `json:"devices"`
	Duration   time.Duration `json:"duration_ns"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// MinIOArchiver пишет отчёты в runs/<run_id>.json.
type MinIOArchiver struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

// NewMinIOArchiver подключается к хранилищу и создаёт bucket, если его нет.
func NewMinIOArchiver(ctx context.Context, cfg Config) (*MinIOArchiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return newArchiver(client, cfg.Bucket), nil
}

func newArchiver(client objectPutter, bucket string) *MinIOArchiver {
	return &MinIOArchiver{client: client, bucket: bucket, now: time.Now}
}

// ObjectKey возвращает ключ отчёта run.
func ObjectKey(run *domain.Run) string {
	return "runs/" + run.ID.String() + ".json"
}

// Archive сохраняет отчёт. Повторная запись перезаписывает отчёт.
func (a *MinIOArchiver) Archive(ctx context.Context, run *domain.Run) error {
	report := Report{
		Run:        run,
		Devices:    run.DeviceCount(),
		Duration:   run.Duration(),
		ArchivedAt: a.now().UTC(),
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = a.client.PutObject(ctx, a.bucket, ObjectKey(run), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"run-status": string(run.Status),
			"client-id":  run.ClientID,
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", ObjectKey(run), err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
