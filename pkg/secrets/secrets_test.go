package secrets

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insurecove/document-service/pkg/clock"
)

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p := Static{"jwt-secret": "super-secret"}

	v, err := p.Fetch(ctx, "jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, "super-secret", v)

	_, err = p.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh entries skip the backend", func(t *testing.T) {
		var calls atomic.Int64
		p := ProviderFunc(func(ctx context.Context, name string) (string, error) {
			calls.Add(1)
			return "v1", nil
		})
		fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		c := NewCache(p, fake, time.Minute)

		for i := 0; i < 3; i++ {
			v, err := c.Fetch(ctx, "db-password")
			require.NoError(t, err, "fetch %d", i)
			assert.Equal(t, "v1", v)
		}
		assert.EqualValues(t, 1, calls.Load(), "expected a single backend call")
	})

	t.Run("expired entries refetch", func(t *testing.T) {
		var calls atomic.Int64
		p := ProviderFunc(func(ctx context.Context, name string) (string, error) {
			calls.Add(1)
			return "v1", nil
		})
		fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		c := NewCache(p, fake, time.Minute)

		_, _ = c.Fetch(ctx, "db-password")
		fake.Advance(2 * time.Minute)
		_, _ = c.Fetch(ctx, "db-password")
		assert.EqualValues(t, 2, calls.Load(), "expected refetch after TTL")
	})

	t.Run("invalidate forces refetch", func(t *testing.T) {
		var calls atomic.Int64
		p := ProviderFunc(func(ctx context.Context, name string) (string, error) {
			calls.Add(1)
			return "v1", nil
		})
		c := NewCache(p, clock.New(), time.Hour)

		_, _ = c.Fetch(ctx, "api-key")
		c.Invalidate("api-key")
		_, _ = c.Fetch(ctx, "api-key")
		assert.EqualValues(t, 2, calls.Load(), "expected refetch after invalidate")
	})

	t.Run("backend errors propagate", func(t *testing.T) {
		p := ProviderFunc(func(ctx context.Context, name string) (string, error) {
			return "", errors.New("backend down")
		})
		c := NewCache(p, clock.New(), time.Minute)
		_, err := c.Fetch(ctx, "anything")
		assert.Error(t, err, "expected backend error")
	})
}

func TestFetchJSON(t *testing.T) {
	ctx := context.Background()
	p := Static{
		"db-creds": `{"user":"docsvc","password":"hunter2"}`,
		"garbage":  `not json`,
	}

	var creds struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	require.NoError(t, FetchJSON(ctx, p, "db-creds", &creds))
	assert.Equal(t, "docsvc", creds.User)
	assert.Equal(t, "hunter2", creds.Password)

	assert.Error(t, FetchJSON(ctx, p, "garbage", &creds), "expected JSON error")
	assert.ErrorIs(t, FetchJSON(ctx, p, "missing", &creds), ErrNotFound)
}

type fakeSecretsManager struct {
	values map[string]string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.values[aws.ToString(params.SecretId)]
	if !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestAWSProvider(t *testing.T) {
	ctx := context.Background()
	p := &AWSProvider{
		client: &fakeSecretsManager{values: map[string]string{
			"prod/docsvc/jwt-secret": "signing-key",
		}},
		prefix: "prod/docsvc/",
	}

	v, err := p.Fetch(ctx, "jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, "signing-key", v)

	_, err = p.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("DOCSVC_SECRET_AUTH_JWT_SIGNING_KEY", "env-signing-key")

	p := NewEnv("")
	v, err := p.Fetch(context.Background(), "auth/jwt-signing.key")
	require.NoError(t, err)
	assert.Equal(t, "env-signing-key", v)

	_, err = p.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
