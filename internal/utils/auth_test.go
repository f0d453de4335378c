package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	tok, exp, err := GenerateAccessToken("s", time.Minute, "u1", "t1", "a@b.c", "OWNER")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	claims, err := ParseAccessToken("s", tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "t1", claims.TeamID)
	assert.Equal(t, "OWNER", claims.Role)

	_, err = ParseAccessToken("other", tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAccessToken_Expired(t *testing.T) {
	tok, _, err := GenerateAccessToken("s", -time.Minute, "u1", "t1", "a@b.c", "OWNER")
	require.NoError(t, err)

	_, err = ParseAccessToken("s", tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
