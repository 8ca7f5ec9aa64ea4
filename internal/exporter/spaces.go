package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/gabriel-vasile/mimetype"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/internal/pagesaver"
	"scrapekit/pkg/utils"
)

// Sentinel errors to allow precise mapping in handlers
var (
	ErrStorageConfig = errors.New("storage_configuration")
	ErrUpload        = errors.New("upload_failed")
)

// SpacesExporter uploads page bundles to DigitalOcean Spaces
type SpacesExporter struct {
	client s3iface.S3API
	cfg    config.SpacesConfig
	logger types.Logger
	now    func() time.Time
}

// NewSpacesExporter creates an S3 client against the regional Spaces endpoint
func NewSpacesExporter(cfg config.SpacesConfig) (*SpacesExporter, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: spaces credentials and bucket name are required", ErrStorageConfig)
	}
	endpoint := fmt.Sprintf("https://%s.digitaloceanspaces.com", cfg.Region)

	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageConfig, err)
	}

	e := newSpacesExporter(s3.New(sess), cfg)
	e.logger.Info("DigitalOcean Spaces client initialized", map[string]interface{}{
		"bucket_name": cfg.BucketName,
		"region":      cfg.Region,
		"endpoint":    endpoint,
	})
	return e, nil
}

func newSpacesExporter(client s3iface.S3API, cfg config.SpacesConfig) *SpacesExporter {
	return &SpacesExporter{
		client: client,
		cfg:    cfg,
		logger: logging.GetGlobalLogger().WithField("component", "spaces"),
		now:    time.Now,
	}
}

// UploadBundle uploads the root document, the markdown rendition and every
// resource under <prefix>/<domain>/<name>-<timestamp>/ and returns the public
// URL of the root document
func (e *SpacesExporter) UploadBundle(ctx context.Context, b *pagesaver.Bundle) (string, error) {
	domain := pagesaver.SanitizeName(utils.ExtractDomain(b.SourceURL))
	if domain == "" {
		domain = "unknown"
	}
	base := path.Join(e.cfg.Prefix, domain, fmt.Sprintf("%s-%s", b.Name, e.now().UTC().Format("20060102T150405Z")))

	rootKey := path.Join(base, filepath.Base(b.Root))
	if err := e.putFile(ctx, b.Root, rootKey); err != nil {
		return "", err
	}
	if b.Markdown != "" {
		if err := e.putFile(ctx, b.Markdown, path.Join(base, filepath.Base(b.Markdown))); err != nil {
			return "", err
		}
	}
	for _, rel := range b.Resources {
		if err := e.putFile(ctx, filepath.Join(b.Dir, filepath.FromSlash(rel)), path.Join(base, rel)); err != nil {
			return "", err
		}
	}

	publicURL := e.publicURL(rootKey)
	e.logger.Info("Bundle uploaded", map[string]interface{}{
		"bundle":     b.Name,
		"objects":    len(b.Resources) + 1,
		"bundle_url": publicURL,
	})
	return publicURL, nil
}

func (e *SpacesExporter) putFile(ctx context.Context, local, key string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return utils.NewIOError("read "+local, err)
	}

	contentType := mime.TypeByExtension(path.Ext(local))
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	_, err = e.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         aws.String("public-read"),
	})
	if err != nil {
		e.logger.Error("Failed to upload object to DigitalOcean Spaces", map[string]interface{}{
			"object_key": key,
			"error":      err.Error(),
		})
		return fmt.Errorf("%w: %s: %v", ErrUpload, key, err)
	}
	return nil
}

func (e *SpacesExporter) publicURL(key string) string {
	if e.cfg.CDNEndpoint != "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(e.cfg.CDNEndpoint, "/"), key)
	}
	return fmt.Sprintf("https://%s.%s.digitaloceanspaces.com/%s", e.cfg.BucketName, e.cfg.Region, key)
}

// IsHealthy checks if the Spaces client can reach the bucket
func (e *SpacesExporter) IsHealthy(ctx context.Context) bool {
	_, err := e.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(e.cfg.BucketName),
	})
	if err != nil {
		e.logger.Error("DigitalOcean Spaces health check failed", map[string]interface{}{
			"bucket_name": e.cfg.BucketName,
			"error":       err.Error(),
		})
		return false
	}
	return true
}
