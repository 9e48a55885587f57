package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/caregem-api/pkg/circuitbreaker"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

// SecretsManagerAPI is the subset of the Secrets Manager client in use.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Store reads secrets and keeps them for ttl.
type Store struct {
	client  SecretsManagerAPI
	cache   *cache.Cache
	cb      *circuitbreaker.CircuitBreaker
	timeout time.Duration
}

func NewStore(client SecretsManagerAPI, ttl, timeout time.Duration) *Store {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Store{
		client: client,
		cache:  cache.New(ttl, 2*ttl),
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "secrets-manager",
			MaxFailures: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		}),
		timeout: timeout,
	}
}

func NewFromConfig(cfg aws.Config, ttl, timeout time.Duration) *Store {
	return NewStore(secretsmanager.NewFromConfig(cfg), ttl, timeout)
}

// Get returns the secret string for id.
func (s *Store) Get(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.Internal(fmt.Errorf("secret id not configured"))
	}
	if v, ok := s.cache.Get(id); ok {
		return v.(string), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out *secretsmanager.GetSecretValueOutput
	err := s.cb.Execute(func() error {
		var err error
		out, err = s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(id),
		})
		return err
	})
	if err != nil {
		return "", errors.Transient("secret store unavailable", err)
	}
	if out.SecretString == nil {
		return "", errors.Internal(fmt.Errorf("secret %s has no string value", id))
	}

	s.cache.SetDefault(id, *out.SecretString)
	return *out.SecretString, nil
}

// Invalidate drops a cached secret so the next Get refetches it.
func (s *Store) Invalidate(id string) {
	s.cache.Delete(id)
}
