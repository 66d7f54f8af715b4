// Package secretstore resolves secret material from AWS Secrets Manager,
// the optional external backend for connection descriptors' secret bags
// alongside internal/secrets's Redis-backed $SECRET: store (spec.md §3).
// Grounded on internal/connector/athenaconnector's aws-sdk-go-v2 wiring:
// the same awsconfig.LoadDefaultConfig credential chain, extended from a
// query client to a Secrets Manager client.
package secretstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Backend resolves a named secret from an external secret manager.
// internal/secrets.Resolver holds one as an optional fallback for
// $AWSSECRET: references.
type Backend interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// AWSBackend is a Backend over AWS Secrets Manager.
type AWSBackend struct {
	client *secretsmanager.Client
}

// NewAWSBackend loads the default AWS config (env vars, shared config
// file, or IMDS - the same chain the teacher's platform code used for
// credentials) and builds an AWSBackend. region overrides the config's
// resolved region when non-empty.
func NewAWSBackend(ctx context.Context, region string) (*AWSBackend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secretstore: load aws config: %w", err)
	}
	return &AWSBackend{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// Get fetches name's current secret value, preferring the string payload
// GetSecretValue returns over the binary one (Secrets Manager returns
// exactly one of the two, never both).
func (b *AWSBackend) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("secretstore: get secret %q: %w", name, err)
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	return out.SecretBinary, nil
}
