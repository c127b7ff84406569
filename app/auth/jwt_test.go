package auth

import (
	"testing"
	"time"

	"task-miner/app/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "secret", ExpireTime: 2, Issuer: "task-miner"})

	token, expireAt, err := svc.GenerateToken("admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), expireAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "secret", ExpireTime: 1, Issuer: "task-miner"})
	other := NewJWTService(config.JWTConfig{Secret: "other", ExpireTime: 1, Issuer: "task-miner"})
	otherIssuer := NewJWTService(config.JWTConfig{Secret: "secret", ExpireTime: 1, Issuer: "someone-else"})

	token, _, err := other.GenerateToken("admin")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)

	token, _, err = otherIssuer.GenerateToken("admin")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)

	_, err = svc.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestRefreshTokenOnlyNearExpiry(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "secret", ExpireTime: 24, Issuer: "task-miner"})
	token, _, err := svc.GenerateToken("admin")
	require.NoError(t, err)

	_, _, err = svc.RefreshToken(token)
	assert.Error(t, err)

	svc.expire = 30 * time.Minute
	short, _, err := svc.GenerateToken("admin")
	require.NoError(t, err)
	refreshed, _, err := svc.RefreshToken(short)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed)
}
