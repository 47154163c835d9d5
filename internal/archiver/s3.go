// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package archiver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the optional offsite archive backend (C11).
type S3Config struct {
	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`
	Region       string `json:"region"`
	AccessKey    string `json:"accessKey"`
	SecretKey    string `json:"secretKey"`
	UsePathStyle bool   `json:"usePathStyle"`
}

// S3Offsite uploads completed archives (and their digest sidecars) to an
// S3-compatible object store. It implements Offsite.
type S3Offsite struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Offsite builds an S3Offsite from cfg.
func NewS3Offsite(ctx context.Context, cfg S3Config) (*S3Offsite, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("offsite archive: empty bucket name")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("offsite archive: load AWS config: %w", err)
	}

	opts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}

	return &S3Offsite{
		client: s3.NewFromConfig(awsCfg, opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Upload puts archivePath and digestPath under the configured bucket/prefix,
// keyed by their base filenames. Failure of either leaves local files
// untouched — local retention is the sole authority for deletion.
func (o *S3Offsite) Upload(ctx context.Context, archivePath, digestPath string) error {
	if err := o.putFile(ctx, archivePath, "application/gzip"); err != nil {
		return err
	}
	if _, err := os.Stat(digestPath); err == nil {
		if err := o.putFile(ctx, digestPath, "application/octet-stream"); err != nil {
			return err
		}
	}
	return nil
}

func (o *S3Offsite) putFile(ctx context.Context, path, contentType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	key := filepath.Base(path)
	if o.prefix != "" {
		key = o.prefix + "/" + key
	}

	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}
