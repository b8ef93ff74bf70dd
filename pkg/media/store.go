// Package media is the S3-backed object store for generated and edited
// images, fronted by a public CDN that also applies on-the-fly edit
// transformations.
package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds media store configuration
type Config struct {
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string
	Bucket             string
	CDNBaseURL         string
}

// Store uploads objects to S3 and builds public CDN URLs
type Store struct {
	s3Client   *s3.Client
	bucket     string
	cdnBaseURL string
}

// NewStore creates a new media store
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media bucket is required")
	}
	if cfg.CDNBaseURL == "" {
		return nil, fmt.Errorf("media CDN base URL is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Printf("✅ Media store initialized (bucket: %s)", cfg.Bucket)

	return &Store{
		s3Client:   s3.NewFromConfig(awsCfg),
		bucket:     cfg.Bucket,
		cdnBaseURL: strings.TrimRight(cfg.CDNBaseURL, "/"),
	}, nil
}

// Upload stores an object and returns its durable public URL.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return s.ObjectURL(key), nil
}

// ObjectURL returns the public CDN URL for a stored object.
func (s *Store) ObjectURL(key string) string {
	return s.cdnBaseURL + "/" + strings.TrimLeft(key, "/")
}

// removalLabelPattern restricts object-removal labels to short plain
// descriptions ("person", "street sign"). The label is embedded into a
// CDN edit directive, so anything outside this set is rejected rather
// than escaped.
var removalLabelPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 _-]{0,63}$`)

// ValidateRemovalLabel checks a client-supplied object label before it is
// embedded in a transformation directive.
func ValidateRemovalLabel(label string) error {
	if !removalLabelPattern.MatchString(label) {
		return fmt.Errorf("invalid object description: use letters, digits, spaces, '-' or '_' (max 64 characters)")
	}
	return nil
}

// RemovalURL composes the CDN transformation URL that removes the labeled
// object from a stored image. This is URL composition, not a remote call:
// the CDN applies the edit on first fetch.
func (s *Store) RemovalURL(key, label string) (string, error) {
	if err := ValidateRemovalLabel(label); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s?edit=gen_remove:%s", s.ObjectURL(key), url.QueryEscape(label)), nil
}
