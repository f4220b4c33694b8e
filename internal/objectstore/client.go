// Package objectstore implements the Object Store Client (spec §4.1): it
// resolves the single gzipped CSV blob for an (exchange, date) pair and
// exposes head/open operations producing a lazy decompressed record stream.
//
// It is grounded on the S3 branch of ducklake-ingestion-obsrvr-v3's
// source/datastore.go — the same choice between storage backends, the same
// context-bounded request pattern. Large archives are read as a pull-based
// stream (RecordStream.Next decodes one row per call).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
)

// Config configures the Client's connection to the backing object store.
type Config struct {
	Bucket          string
	RootPrefix      string // the "<root>" segment of the path convention
	Vendor          string // e.g. "vendorco"
	Product         string // e.g. "marketdata"
	Region          string
	Endpoint        string // non-empty for S3-compatible stores (minio, etc.)
	RequestTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
}

// ObjectInfo is the result of a successful head() call.
type ObjectInfo struct {
	Path      string
	SizeBytes int64
}

// Client is the Object Store Client.
type Client struct {
	cfg Config
	s3  *s3.Client
}

// NewClient builds a Client backed by an AWS S3 (or S3-compatible) bucket.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{cfg: cfg, s3: s3Client}, nil
}

// Path builds the bit-exact object key for (exchange, date) per spec §4.1.
func Path(root, vendor, product string, exchange domain.Exchange, date time.Time) string {
	ds := date.UTC().Format("2006-01-02")
	return fmt.Sprintf("%s/%s/%s/%s/ingestion/%s/data/merged/%s-%s-NORMALIZEDMP-Data-1-of-1.csv.gz",
		root, vendor, product, exchange, ds, exchange, ds)
}

func (c *Client) key(exchange domain.Exchange, date time.Time) string {
	return Path(c.cfg.RootPrefix, c.cfg.Vendor, c.cfg.Product, exchange, date)
}

// ExpectedPath returns the object key Head/Open would resolve to for
// (exchange, date), even when Head itself fails (NotFound/TransientIO) and
// therefore never returns an ObjectInfo — callers that still need to record
// a Progress Record for the attempt (spec §3/§4.5) use this as file_path.
func (c *Client) ExpectedPath(exchange domain.Exchange, date time.Time) string {
	return c.key(exchange, date)
}

// Head resolves (exchange, date) to its path and size, or a NotFound /
// TransientIO classified error.
func (c *Client) Head(ctx context.Context, exchange domain.Exchange, date time.Time) (*ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	key := c.key(exchange, date)
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, notFoundErr(key, err)
		}
		return nil, transientErr(key, err)
	}

	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &ObjectInfo{Path: key, SizeBytes: size}, nil
}

// isNotFound recognizes S3's 404/NoSuchKey response shapes.
func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}
