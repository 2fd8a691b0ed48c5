package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// R2Config holds configuration for Cloudflare R2 storage. Any
// S3-compatible endpoint works.
type R2Config struct {
	AccessKey string
	SecretKey string
	AccountID string
	Bucket    string
	Endpoint  string
	Region    string
	BaseURL   string // public base URL for uploaded objects, when the bucket is public
}

// R2Storage implements ObjectStorage against Cloudflare R2.
type R2Storage struct {
	config   R2Config
	session  *session.Session
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewR2Storage creates a new R2Storage instance.
func NewR2Storage(config R2Config) (*R2Storage, error) {
	if config.Region == "" {
		config.Region = "auto"
	}
	if config.Endpoint == "" && config.AccountID != "" {
		config.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", config.AccountID)
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:    aws.String(config.Endpoint),
		Region:      aws.String(config.Region),
		// Force path style addressing for compatibility with S3 API
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	// PartSize 10 MB (must be >= 5 MB) with Concurrency 1 so multipart
	// uploads run sequentially over a single HTTP connection. Chunk
	// uploads are already batched upstream.
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10 MB
		u.Concurrency = 1
	})

	return &R2Storage{
		config:   config,
		session:  sess,
		client:   s3.New(sess),
		uploader: uploader,
	}, nil
}

// Upload stores a local file under remotePath. An "already exists"
// response with upsert set counts as success.
func (r *R2Storage) Upload(ctx context.Context, localPath, remotePath, contentType string, upsert bool) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %v", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %v", err)
	}

	if contentType == "" {
		contentType = contentTypeForExt(filepath.Ext(localPath))
	}

	log.Printf("[R2Storage] Uploading %s (%.2f MB) to %s",
		filepath.Base(localPath), float64(fileInfo.Size())/1024/1024, remotePath)

	_, err = r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(r.config.Bucket),
		Key:         aws.String(remotePath),
		Body:        file,
		ContentType: aws.String(contentType),
		Metadata: map[string]*string{
			"OriginalFileName": aws.String(filepath.Base(localPath)),
			"UploadedAt":       aws.String(time.Now().Format(time.RFC3339)),
			"FileSize":         aws.String(fmt.Sprintf("%d", fileInfo.Size())),
		},
	})
	if err != nil {
		if upsert && isAlreadyExists(err) {
			log.Printf("[R2Storage] Object %s already exists, treating as success", remotePath)
			return nil
		}
		return fmt.Errorf("failed to upload to R2: %v", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case "AlreadyExists", "EntityAlreadyExists":
		return true
	}
	return false
}

// CreateSignedURL presigns a GET for the object.
func (r *R2Storage) CreateSignedURL(remotePath string, ttl time.Duration) (string, error) {
	req, _ := r.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(r.config.Bucket),
		Key:    aws.String(remotePath),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("failed to presign URL for %s: %v", remotePath, err)
	}
	return url, nil
}

// GetPublicURL returns the public URL for the object.
func (r *R2Storage) GetPublicURL(remotePath string) string {
	return fmt.Sprintf("%s/%s", r.getBaseURL(), remotePath)
}

// DeleteObject deletes an object from the R2 bucket.
func (r *R2Storage) DeleteObject(ctx context.Context, remotePath string) error {
	_, err := r.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.config.Bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}
	return nil
}

// ListObjects lists objects in the R2 bucket with a given prefix. The
// maintenance cron uses it to sweep orphaned chunk files.
func (r *R2Storage) ListObjects(ctx context.Context, prefix string) ([]*s3.Object, error) {
	result, err := r.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.config.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %v", err)
	}
	return result.Contents, nil
}

// getBaseURL returns the base URL for the R2 bucket.
func (r *R2Storage) getBaseURL() string {
	if r.config.BaseURL != "" {
		return r.config.BaseURL
	}
	return fmt.Sprintf("%s/%s", r.config.Endpoint, r.config.Bucket)
}

func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	}
	return "application/octet-stream"
}
