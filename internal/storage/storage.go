package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultFolder = "uploads"
	CacheControl  = "public, max-age=31536000"
)

var ErrStorage = errors.New("storage error")

// StorageError 对象存储错误
type StorageError struct {
	Op    string
	Key   string
	Cause error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString("storage ")
	b.WriteString(e.Op)
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Cause}
}

// UploadOptions 上传参数
type UploadOptions struct {
	ContentType string
	Folder      string
	Filename    string
}

// Config 存储配置
type Config struct {
	Bucket          string
	PublicBaseURL   string
	CredentialsFile string
}

// backend 屏蔽具体对象存储实现
type backend interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType, cacheControl string) error
	Delete(ctx context.Context, bucket, key string) error
}

// Store 对象存储客户端，首次读写前校验bucket
type Store struct {
	backend  backend
	bucket   string
	baseURL  string
	verified atomic.Bool
	now      func() time.Time
	log      logrus.FieldLogger
}

func newStore(cfg Config, b backend, log logrus.FieldLogger) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, &StorageError{Op: "configure", Cause: errors.New("bucket name is not configured")}
	}
	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + cfg.Bucket
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		backend: b,
		bucket:  cfg.Bucket,
		baseURL: baseURL,
		now:     time.Now,
		log:     log.WithField("bucket", cfg.Bucket),
	}, nil
}

// VerifyConnection 校验bucket存在，成功后不再重复校验
func (s *Store) VerifyConnection(ctx context.Context) error {
	if s.verified.Load() {
		return nil
	}
	exists, err := s.backend.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StorageError{Op: "verify", Cause: err}
	}
	if !exists {
		return &StorageError{Op: "verify", Cause: fmt.Errorf("bucket %s does not exist", s.bucket)}
	}
	s.verified.Store(true)
	s.log.Info("storage bucket verified")
	return nil
}

// Upload 上传对象并返回公开URL
func (s *Store) Upload(ctx context.Context, data []byte, opts UploadOptions) (string, error) {
	if err := s.VerifyConnection(ctx); err != nil {
		return "", err
	}
	key, err := s.objectKey(opts)
	if err != nil {
		return "", &StorageError{Op: "upload", Cause: err}
	}
	if err := s.backend.Put(ctx, s.bucket, key, data, opts.ContentType, CacheControl); err != nil {
		return "", &StorageError{Op: "upload", Key: key, Cause: err}
	}
	s.log.WithFields(logrus.Fields{"key": key, "size": len(data)}).Debug("object uploaded")
	return s.PublicURL(key), nil
}

// Delete 删除对象
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.VerifyConnection(ctx); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, s.bucket, key); err != nil {
		return &StorageError{Op: "delete", Key: key, Cause: err}
	}
	return nil
}

// PublicURL 对象的公开访问地址
func (s *Store) PublicURL(key string) string {
	return s.baseURL + "/" + key
}

// KeyForURL 从公开URL还原对象key
func (s *Store) KeyForURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

func (s *Store) objectKey(opts UploadOptions) (string, error) {
	folder := strings.Trim(opts.Folder, "/")
	if folder == "" {
		folder = DefaultFolder
	}
	if opts.Filename != "" {
		return folder + "/" + opts.Filename, nil
	}
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d-%s.%s", folder, s.now().UnixMilli(), hex.EncodeToString(suffix), ExtensionFor(opts.ContentType)), nil
}

// ExtensionFor 由MIME类型得到文件扩展名，未知类型按jpg处理
func ExtensionFor(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
