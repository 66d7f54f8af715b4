package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/oriys/nova/internal/secretstore"
)

const (
	secretRefPrefix    = "$SECRET:"
	awsSecretRefPrefix = "$AWSSECRET:"
)

// Resolver resolves $SECRET:name (Redis-backed) and, when aws is
// configured, $AWSSECRET:name (AWS Secrets Manager-backed) references to
// actual values.
type Resolver struct {
	store *Store
	aws   secretstore.Backend // nil disables $AWSSECRET: resolution
}

// NewResolver creates a new secret resolver with only the Redis-backed
// $SECRET: store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// NewResolverWithAWS creates a resolver that additionally resolves
// $AWSSECRET:name references against aws (spec.md §3's connection
// descriptor secret bags, sourced from Secrets Manager when the
// operator opts in via config).
func NewResolverWithAWS(store *Store, aws secretstore.Backend) *Resolver {
	return &Resolver{store: store, aws: aws}
}

// ResolveEnvVars resolves all $SECRET: references in environment variables
// Returns a new map with secrets resolved
func (r *Resolver) ResolveEnvVars(ctx context.Context, envVars map[string]string) (map[string]string, error) {
	if len(envVars) == 0 {
		return envVars, nil
	}

	resolved := make(map[string]string, len(envVars))
	for k, v := range envVars {
		resolvedValue, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", k, err)
		}
		resolved[k] = resolvedValue
	}

	return resolved, nil
}

// ResolveValue resolves a single value that may carry a $SECRET:name or
// $AWSSECRET:name reference.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, secretRefPrefix):
		name := strings.TrimPrefix(value, secretRefPrefix)
		if name == "" {
			return "", fmt.Errorf("empty secret name in reference")
		}
		secretValue, err := r.store.Get(ctx, name)
		if err != nil {
			return "", fmt.Errorf("get secret '%s': %w", name, err)
		}
		return string(secretValue), nil

	case strings.HasPrefix(value, awsSecretRefPrefix):
		name := strings.TrimPrefix(value, awsSecretRefPrefix)
		if name == "" {
			return "", fmt.Errorf("empty secret name in reference")
		}
		if r.aws == nil {
			return "", fmt.Errorf("aws secrets manager backend not configured, cannot resolve '%s'", name)
		}
		secretValue, err := r.aws.Get(ctx, name)
		if err != nil {
			return "", fmt.Errorf("get aws secret '%s': %w", name, err)
		}
		return string(secretValue), nil

	default:
		return value, nil
	}
}

// IsSecretRef checks if a value is a secret reference
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, secretRefPrefix)
}

// ExtractSecretName extracts the secret name from a reference
func ExtractSecretName(value string) string {
	if !strings.HasPrefix(value, secretRefPrefix) {
		return ""
	}
	return strings.TrimPrefix(value, secretRefPrefix)
}

// ListSecretRefs returns all secret names referenced in the environment variables
func ListSecretRefs(envVars map[string]string) []string {
	var refs []string
	for _, v := range envVars {
		if name := ExtractSecretName(v); name != "" {
			refs = append(refs, name)
		}
	}
	return refs
}
