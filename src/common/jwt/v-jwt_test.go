package vxjwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vox_err "github.com/voxcord/voxcord/src/common/verrors"
)

func TestTokenRoundTrip(t *testing.T) {

	token, err := CreateToken("u-42", "device-7")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-42", claims.UserID)
	assert.Equal(t, "device-7", claims.DeviceID)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {

	token, err := CreateToken("u-42", "device-7")
	require.NoError(t, err)

	// flip a character in the signature
	b := []byte(token)
	last := len(b) - 1
	if b[last] == 'A' {
		b[last] = 'B'
	} else {
		b[last] = 'A'
	}

	_, err = VerifyToken(string(b))
	require.Error(t, err)
	code, ok := vox_err.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, vox_err.CodeUnauthorized, code)
}

func TestVerifyRejectsGarbage(t *testing.T) {

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		_, err := VerifyToken(tok)
		require.Error(t, err, "token: %q", tok)
		code, _ := vox_err.CodeOf(err)
		assert.Equal(t, vox_err.CodeUnauthorized, code)
	}
}
