package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeySetVerify(t *testing.T) {
	set := NewAPIKeySet(map[string]string{"svc-a": "secret-a", "svc-b": "secret-b"})

	identity, ok := set.Verify("secret-a")
	assert.True(t, ok)
	assert.Equal(t, "svc-a", identity)

	_, ok = set.Verify("wrong-secret")
	assert.False(t, ok)

	_, ok = set.Verify("")
	assert.False(t, ok)
}

func TestGenerateKeyIsUniqueAndPrefixed(t *testing.T) {
	k1, err := GenerateKey()
	assert.NoError(t, err)
	k2, err := GenerateKey()
	assert.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.Contains(t, k1, "kbtly_")
}
