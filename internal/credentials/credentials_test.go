package credentials

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialNeverPrintsSecret(t *testing.T) {
	c := Credential{Ref: "serverless", Secret: "s3cr3t"}
	for _, s := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%+v", c), fmt.Sprintf("%#v", c)} {
		assert.NotContains(t, s, "s3cr3t")
	}
}

func TestContextRoundTrip(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)

	ctx := WithCredential(context.Background(), Credential{Ref: "r", Secret: "x", ExpiresAt: time.Now().Add(time.Minute)})
	c, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", c.Secret)

	expired := WithCredential(context.Background(), Credential{Ref: "r", Secret: "x", ExpiresAt: time.Now().Add(-time.Second)})
	_, err = FromContext(expired)
	assert.Error(t, err)
}

func TestEnvStore(t *testing.T) {
	t.Setenv("SERVERLESS_TOKEN", "tok")
	c, err := EnvStore{}.Get(context.Background(), "serverless-token")
	require.NoError(t, err)
	assert.Equal(t, "tok", c.Secret)
	assert.False(t, c.Expired(time.Now()))

	_, err = EnvStore{}.Get(context.Background(), "missing-token")
	assert.Error(t, err)
}

func TestMemoryStoreCountsFetches(t *testing.T) {
	s := NewMemoryStore(map[string]string{"a": "1"})
	_, _ = s.Get(context.Background(), "a")
	_, _ = s.Get(context.Background(), "a")
	assert.Equal(t, 2, s.Fetches("a"))
}
