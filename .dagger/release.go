package main

import (
	"context"
	"fmt"
	"path"

	"dagger/stacks/internal/dagger"
)

// bucket holds the S3-compatible destination for release artifacts.
type bucket struct {
	endpoint        *dagger.Secret
	name            *dagger.Secret
	accessKeyID     *dagger.Secret
	secretAccessKey *dagger.Secret
}

// sync copies artifacts into the bucket under each of the given prefixes.
func (b *bucket) sync(ctx context.Context, artifacts *dagger.Directory, prefixes ...string) error {
	name, err := b.name.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket name: %w", err)
	}

	endpoint, err := b.endpoint.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket endpoint: %w", err)
	}

	awsCli := dag.Container().
		From("amazon/aws-cli:latest").
		WithSecretVariable("AWS_ACCESS_KEY_ID", b.accessKeyID).
		WithSecretVariable("AWS_SECRET_ACCESS_KEY", b.secretAccessKey).
		WithEnvVariable("AWS_DEFAULT_REGION", "auto").
		WithDirectory("/artifacts", artifacts).
		WithWorkdir("/artifacts")

	for _, prefix := range prefixes {
		destination := "s3://" + path.Join(name, prefix)
		_, err := awsCli.
			WithExec([]string{"aws", "s3", "sync", ".", destination, "--endpoint-url", endpoint}).
			Sync(ctx)
		if err != nil {
			return fmt.Errorf("uploading artifacts to %s: %w", prefix, err)
		}
	}

	return nil
}

// Release builds versioned binaries and uploads them under the version
// prefix. With latest set the same artifacts are also published as "latest".
func (s *Stacks) Release(
	ctx context.Context,

	// Version string (e.g., "v1.0.0")
	version string,

	// Git commit SHA
	commit string,

	// Also publish under the "latest" prefix
	// +optional
	latest bool,

	// Bucket endpoint URL
	endpoint *dagger.Secret,

	// Bucket name
	bucketName *dagger.Secret,

	// Bucket access key ID
	accessKeyID *dagger.Secret,

	// Bucket secret access key
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	b := &bucket{
		endpoint:        endpoint,
		name:            bucketName,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
	}

	prefixes := []string{version}
	if latest {
		prefixes = append(prefixes, "latest")
	}

	artifacts := s.BuildRelease(ctx, version, commit)
	return artifacts, b.sync(ctx, artifacts, prefixes...)
}

// Nightly builds and uploads nightly artifacts
func (s *Stacks) Nightly(
	ctx context.Context,

	// Git commit SHA
	commit string,

	// Bucket endpoint URL
	endpoint *dagger.Secret,

	// Bucket name
	bucketName *dagger.Secret,

	// Bucket access key ID
	accessKeyID *dagger.Secret,

	// Bucket secret access key
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	b := &bucket{
		endpoint:        endpoint,
		name:            bucketName,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
	}

	artifacts := s.BuildRelease(ctx, "nightly", commit)
	return artifacts, b.sync(ctx, artifacts, "nightly")
}
