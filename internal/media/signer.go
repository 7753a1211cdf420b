// Package media issues presigned upload URLs for listing images.
package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrUnsupportedType = errors.New("unsupported image type")

var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicURL is the base images are served from; defaults to the bucket
	// URL on Endpoint.
	PublicURL string
	TTL       time.Duration
}

// Upload is what a client needs to PUT one image directly to storage.
type Upload struct {
	Method      string    `json:"method"`
	UploadURL   string    `json:"uploadUrl"`
	PublicURL   string    `json:"publicUrl"`
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type Signer struct {
	client    *minio.Client
	bucket    string
	publicURL string
	ttl       time.Duration
}

// NewSigner builds a signer. Region must be set so presigning never needs a
// round trip to the storage server.
func NewSigner(opts Options) (*Signer, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("media: endpoint is required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("media: create client: %w", err)
	}

	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}

	return &Signer{
		client:    client,
		bucket:    opts.Bucket,
		publicURL: publicURL,
		ttl:       opts.TTL,
	}, nil
}

// SignUpload returns a presigned PUT for a new object under the owner's
// prefix. Only image content types are accepted.
func (s *Signer) SignUpload(ctx context.Context, ownerID, filename, contentType string) (Upload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	defaultExt, ok := imageTypes[contentType]
	if !ok {
		return Upload{}, ErrUnsupportedType
	}
	ext := strings.ToLower(path.Ext(filename))
	if _, known := extTypes[ext]; !known || extTypes[ext] != contentType {
		ext = defaultExt
	}

	key := fmt.Sprintf("listings/%s/%s%s", ownerID, uuid.NewString(), ext)
	signed, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return Upload{}, fmt.Errorf("presign upload: %w", err)
	}

	return Upload{
		Method:      "PUT",
		UploadURL:   signed.String(),
		PublicURL:   s.publicURL + "/" + key,
		Key:         key,
		ContentType: contentType,
		ExpiresAt:   time.Now().UTC().Add(s.ttl),
	}, nil
}

var extTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}
