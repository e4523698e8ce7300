package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleOperator))
	assert.True(t, RoleOperator.HasPermission(RoleOperator))
	assert.False(t, RoleViewer.HasPermission(RoleOperator))
	assert.False(t, Role("").HasPermission(RoleViewer))

	_, err := ParseRole("root")
	assert.Error(t, err)
	r, err := ParseRole("viewer")
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, r)
}

func TestJWT_RoundTrip(t *testing.T) {
	svc, err := NewJWTService(DefaultJWTConfig("test-secret"))
	require.NoError(t, err)

	token, err := svc.GenerateToken("alice", RoleOperator, 0)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "sjscal", claims.Issuer)
}

func TestJWT_Rejections(t *testing.T) {
	svc, err := NewJWTService(DefaultJWTConfig("test-secret"))
	require.NoError(t, err)

	_, err = NewJWTService(JWTConfig{})
	assert.Error(t, err)

	_, err = svc.GenerateToken("alice", Role("root"), 0)
	assert.Error(t, err)

	other, _ := NewJWTService(DefaultJWTConfig("other-secret"))
	foreign, err := other.GenerateToken("alice", RoleAdmin, 0)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	past := time.Now().Add(-2 * time.Hour)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sjscal",
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
		Role: RoleViewer,
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestMemoryAPIKeyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAPIKeyStore()

	key, err := store.CreateKey(ctx, APIKeyInfo{Name: "ci", OwnerID: "ops", Role: RoleOperator})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "sk_"))

	info, err := store.ValidateKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, info.Role)
	assert.NotZero(t, info.LastUsed)

	keys, err := store.ListKeys(ctx, "ops")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].KeyHash)

	require.NoError(t, store.RevokeKey(ctx, info.ID))
	_, err = store.ValidateKey(ctx, key)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, store.RevokeKey(ctx, info.ID), ErrInvalidToken)
}

func TestMemoryAPIKeyStore_Expired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAPIKeyStore()

	key, err := store.CreateKey(ctx, APIKeyInfo{Name: "old", OwnerID: "ops", Role: RoleViewer, ExpiresAt: time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, err)

	_, err = store.ValidateKey(ctx, key)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = store.CreateKey(ctx, APIKeyInfo{Name: "bad", Role: Role("root")})
	assert.Error(t, err)
}
