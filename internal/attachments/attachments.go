// Package attachments resolves the opaque attachment references a message
// carries against object storage. Upload mechanics are a named external
// collaborator's concern; this package only confirms whether a reference
// points at something that actually exists. The send path does not consult
// it.
package attachments

import (
	"context"
	"fmt"
	"strings"

	awsv1 "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	credsv1 "github.com/aws/aws-sdk-go/aws/credentials"
	sessionv1 "github.com/aws/aws-sdk-go/aws/session"
	s3v1 "github.com/aws/aws-sdk-go/service/s3"
)

// Config names the bucket an attachment reference resolves against.
type Config struct {
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
	Bucket   string
}

// Resolver confirms attachment keys exist in object storage without ever
// touching the upload path.
type Resolver struct {
	client *s3v1.S3
	bucket string
}

// New constructs a Resolver. An incomplete Config yields a resolver that
// treats every key as unresolved rather than failing startup, since
// attachments are an optional feature of a message.
func New(cfg Config) (*Resolver, error) {
	if cfg.Endpoint == "" || cfg.Region == "" || cfg.KeyID == "" || cfg.AppKey == "" || cfg.Bucket == "" {
		return &Resolver{}, nil
	}

	disableSSL := strings.HasPrefix(strings.ToLower(cfg.Endpoint), "http://")
	sess, err := sessionv1.NewSession(&awsv1.Config{
		Region:           awsv1.String(cfg.Region),
		Endpoint:         awsv1.String(cfg.Endpoint),
		S3ForcePathStyle: awsv1.Bool(true),
		Credentials:      credsv1.NewStaticCredentials(cfg.KeyID, cfg.AppKey, ""),
		DisableSSL:       awsv1.Bool(disableSSL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment storage session: %w", err)
	}

	return &Resolver{client: s3v1.New(sess), bucket: cfg.Bucket}, nil
}

func (r *Resolver) configured() bool {
	return r.client != nil && r.bucket != ""
}

// Exists reports whether an attachment key is present in storage. A
// resolver with no configured bucket always reports false rather than
// erroring, so attachment references degrade to "unresolved" in
// environments that never wired object storage.
func (r *Resolver) Exists(ctx context.Context, key string) (bool, error) {
	if !r.configured() {
		return false, nil
	}
	_, err := r.client.HeadObjectWithContext(ctx, &s3v1.HeadObjectInput{
		Bucket: awsv1.String(r.bucket),
		Key:    awsv1.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to probe attachment key %q: %w", key, err)
	}
	return true, nil
}

// ResolveAll reports which of a message's attachment references exist,
// preserving input order.
func (r *Resolver) ResolveAll(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	for i, key := range keys {
		ok, err := r.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		out[i] = ok
	}
	return out, nil
}

func isNotFound(err error) bool {
	if ae, ok := err.(awserr.Error); ok {
		return ae.Code() == s3v1.ErrCodeNoSuchKey || ae.Code() == "NotFound"
	}
	return false
}
