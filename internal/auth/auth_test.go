package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret", "ops-key", "ops-secret")

	token, err := service.GenerateToken(Credentials{APIKey: "ops-key", APISecret: "ops-secret"})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops-key", claims.ClientID)
	assert.Contains(t, claims.Permissions, PermissionScrape)
	assert.Contains(t, claims.Permissions, PermissionRead)
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	service := NewService("test-secret", "ops-key", "ops-secret")

	_, err := service.GenerateToken(Credentials{APIKey: "ops-key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.GenerateToken(Credentials{APIKey: "other", APISecret: "ops-secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestGenerateTokenRejectsEmptyConfiguredKey(t *testing.T) {
	// An unset API key must never admit empty credentials.
	service := NewService("test-secret", "", "")

	_, err := service.GenerateToken(Credentials{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	service := NewService("test-secret", "ops-key", "ops-secret")
	other := NewService("different-secret", "ops-key", "ops-secret")

	token, err := service.GenerateToken(Credentials{APIKey: "ops-key", APISecret: "ops-secret"})
	require.NoError(t, err)

	_, err = other.ValidateToken(token.Token)
	assert.Error(t, err)
}
