package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"groupchat/auth"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	req := require.New(t)

	encoded, err := auth.HashPassword("s3cret")
	req.NoError(err)
	req.True(strings.HasPrefix(encoded, "$argon2id$"))

	match, err := auth.ComparePassword("s3cret", encoded)
	req.NoError(err)
	req.True(match)

	match, err = auth.ComparePassword("wrong", encoded)
	req.NoError(err)
	req.False(match)
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	req := require.New(t)

	first, err := auth.HashPassword("s3cret")
	req.NoError(err)
	second, err := auth.HashPassword("s3cret")
	req.NoError(err)

	// A fresh salt per hash: identical passwords never share a digest.
	req.NotEqual(first, second)
}

func TestComparePassword_MalformedHash(t *testing.T) {
	req := require.New(t)

	_, err := auth.ComparePassword("s3cret", "not-an-encoded-hash")
	req.Error(err)

	_, err = auth.ComparePassword("s3cret", "$argon2id$v=19$m=19456,t=2,p=1$!!!$!!!")
	req.Error(err)
}
