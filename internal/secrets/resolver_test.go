package secrets

import (
	"context"
	"errors"
	"testing"
)

type mockAWSBackend struct {
	values map[string][]byte
	err    error
}

func (m *mockAWSBackend) Get(_ context.Context, name string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.values[name]
	if !ok {
		return nil, errors.New("secret not found")
	}
	return v, nil
}

func TestResolver_ResolveValue_Passthrough(t *testing.T) {
	r := NewResolver(nil)
	got, err := r.ResolveValue(context.Background(), "plain-value")
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	if got != "plain-value" {
		t.Fatalf("got %q, want unchanged value", got)
	}
}

func TestResolver_ResolveValue_AWSSecretRef(t *testing.T) {
	backend := &mockAWSBackend{values: map[string][]byte{"db-password": []byte("hunter2")}}
	r := NewResolverWithAWS(nil, backend)

	got, err := r.ResolveValue(context.Background(), "$AWSSECRET:db-password")
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("got %q, want %q", got, "hunter2")
	}
}

func TestResolver_ResolveValue_AWSSecretRef_NotConfigured(t *testing.T) {
	r := NewResolver(nil)
	if _, err := r.ResolveValue(context.Background(), "$AWSSECRET:db-password"); err == nil {
		t.Fatal("expected error when no aws backend is configured")
	}
}

func TestResolver_ResolveValue_AWSSecretRef_Empty(t *testing.T) {
	r := NewResolverWithAWS(nil, &mockAWSBackend{})
	if _, err := r.ResolveValue(context.Background(), "$AWSSECRET:"); err == nil {
		t.Fatal("expected error for empty secret name")
	}
}
