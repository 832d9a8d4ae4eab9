package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Password_Hash_Roundtrip(t *testing.T) {
	p := PasswordParams{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

	first, err := hashPassword("s3cret-pass", p)
	require.NoError(t, err)
	second, err := hashPassword("s3cret-pass", p)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "every hash gets its own salt")

	ok, err := verifyPassword("s3cret-pass", first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("s3cret-pasS", first)
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_Verify_Rejects_Malformed_Hashes(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
	} {
		_, err := verifyPassword("pw", encoded)
		assert.ErrorIs(t, err, ErrMalformedHash, encoded)
	}

	_, err := verifyPassword("pw", "$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA")
	assert.Error(t, err)
}
