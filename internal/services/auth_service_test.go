package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setAuthConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func TestAuthService_Token(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	setAuthConfig()
	service := NewAuthService(db)

	secret := "a-long-client-secret"
	hashed, err := HashSecret(secret)
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		mock.ExpectQuery("SELECT secret_hash FROM api_clients").
			WithArgs("acct-integration").
			WillReturnRows(sqlmock.NewRows([]string{"secret_hash"}).AddRow(hashed))

		body, _ := json.Marshal(TokenRequest{ClientID: "acct-integration", ClientSecret: secret})
		r := httptest.NewRequest("POST", "/auth/token", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Token(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response TokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.False(t, response.ExpiresAt.IsZero())
	})

	t.Run("wrong secret", func(t *testing.T) {
		mock.ExpectQuery("SELECT secret_hash FROM api_clients").
			WithArgs("acct-integration").
			WillReturnRows(sqlmock.NewRows([]string{"secret_hash"}).AddRow(hashed))

		body, _ := json.Marshal(TokenRequest{ClientID: "acct-integration", ClientSecret: "completely-wrong-secret"})
		r := httptest.NewRequest("POST", "/auth/token", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Token(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown client", func(t *testing.T) {
		mock.ExpectQuery("SELECT secret_hash FROM api_clients").
			WithArgs("nobody").
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(TokenRequest{ClientID: "nobody", ClientSecret: "irrelevant-but-long"})
		r := httptest.NewRequest("POST", "/auth/token", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Token(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/token", bytes.NewBuffer([]byte("not json")))
		w := httptest.NewRecorder()

		service.Token(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/token", bytes.NewBufferString(`{"client_id":"x","client_secret":"aaaaaaaaaaaaaaaa","extra":true}`))
		w := httptest.NewRecorder()

		service.Token(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSecretHashing(t *testing.T) {
	setAuthConfig()

	secret := "another-long-secret"
	hashed, err := HashSecret(secret)
	require.NoError(t, err)
	assert.NotEmpty(t, hashed)

	assert.True(t, verifySecret(secret, hashed))
	assert.False(t, verifySecret("wrong", hashed))
	assert.False(t, verifySecret(secret, "malformed"))

	// salted: two hashes of the same secret differ
	again, err := HashSecret(secret)
	require.NoError(t, err)
	assert.NotEqual(t, hashed, again)
}
