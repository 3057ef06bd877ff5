package bundlestore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Mirror archives published bundle generations to Amazon S3 or a
// compatible service. Only public material is uploaded; the store never
// hands it the private key.
type S3Mirror struct {
	client     *s3.S3
	bucketName string
	prefix     string
	log        *slog.Logger
}

// NewS3Mirror creates a mirror writing to the given bucket under prefix.
// An empty endpoint targets AWS; set it for S3-compatible services. Static
// credentials are optional when the environment provides them another way.
func NewS3Mirror(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Mirror, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Mirror{
		client:     s3.New(sess),
		bucketName: bucketName,
		prefix:     strings.TrimSuffix(prefix, "/"),
		log:        log,
	}, nil
}

// MirrorGeneration uploads the given files under
// <prefix>/<domain>/gen-NNNNNN/. Objects are private; the bucket's own
// access controls govern retrieval.
func (m *S3Mirror) MirrorGeneration(ctx context.Context, domain string, generation uint64, files map[string][]byte) error {
	start := time.Now()

	for name, data := range files {
		key := m.objectKey(domain, generation, name)

		_, err := m.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.bucketName),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
			ACL:    aws.String("private"),
		})
		if err != nil {
			m.log.Error("Failed to upload object to S3",
				slog.String("bucket", m.bucketName),
				slog.String("key", key),
				"err", err,
				slog.Duration("duration", time.Since(start)))
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
	}

	m.log.Debug("Uploaded bundle generation to S3",
		slog.String("bucket", m.bucketName),
		slog.String("domain", domain),
		slog.Uint64("generation", generation),
		slog.Int("files", len(files)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks if the bucket is accessible by attempting to head it.
func (m *S3Mirror) Available(ctx context.Context) bool {
	_, err := m.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(m.bucketName),
	})
	if err != nil {
		m.log.Warn("S3 mirror unavailable",
			slog.String("bucket", m.bucketName),
			"err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this mirror.
func (m *S3Mirror) Name() string {
	return fmt.Sprintf("s3-%s", m.bucketName)
}

func (m *S3Mirror) objectKey(domain string, generation uint64, name string) string {
	key := path.Join(domain, generationDirName(generation), name)
	if m.prefix == "" {
		return key
	}
	return path.Join(m.prefix, key)
}
