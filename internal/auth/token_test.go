package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

const secret = "test-secret-test-secret-test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestVerify(t *testing.T) {
	verifier := NewTokenVerifier(secret)
	userID := uuid.New()
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		want    valueobject.Actor
		wantErr bool
	}{
		{
			name:  "helper",
			token: sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": userID.String(), "role": "helper", "exp": exp}),
			want:  valueobject.Actor{ID: userID, Role: valueobject.RoleHelper},
		},
		{
			name:    "wrong secret",
			token:   sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": userID.String(), "role": "helper", "exp": exp}),
			wantErr: true,
		},
		{
			name:    "expired",
			token:   sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": userID.String(), "role": "helper", "exp": time.Now().Add(-time.Minute).Unix()}),
			wantErr: true,
		},
		{
			name:    "no expiry",
			token:   sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": userID.String(), "role": "helper"}),
			wantErr: true,
		},
		{
			name:    "bad subject",
			token:   sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "42", "role": "helper", "exp": exp}),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not-a-token",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := verifier.Verify(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyRejectsSystemRole(t *testing.T) {
	verifier := NewTokenVerifier(secret)
	token := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"sub":  uuid.NewString(),
		"role": "system",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	_, err := verifier.Verify(token)
	assert.True(t, apperror.IsForbidden(err))
}
