// Copyright 2025 VeilGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package artifact

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the S3 artifact store. Explicit credentials are
// optional; without them the default credential chain (IAM role,
// environment) is used.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // non-AWS endpoints (MinIO, LocalStack)
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Prefix          string
}

// S3Store writes artifacts to an S3 bucket.
type S3Store struct {
	client *s3.Client
	opts   S3Options
}

// NewS3Store builds the client and verifies the bucket is reachable.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 artifact store requires a bucket")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if opts.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	if opts.ForcePathStyle {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to verify S3 bucket %s: %w", opts.Bucket, err)
	}

	return &S3Store{client: client, opts: opts}, nil
}

// Put uploads the artifact and returns its s3:// location.
func (s *S3Store) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	safe := sanitizeName(name)
	if safe == "" {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	key := safe
	if s.opts.Prefix != "" {
		key = s.opts.Prefix + "/" + safe
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.opts.Bucket, key), nil
}
