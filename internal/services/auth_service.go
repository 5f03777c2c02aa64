package services

import (
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AuthService mints the bearer tokens the import/pull API requires.
// Clients are machine integrations identified by an id and an
// argon2id-hashed secret.
type AuthService struct {
	db        *sql.DB
	validator *validator.Validate
}

// TokenRequest is the client-credential exchange payload.
type TokenRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required,min=16"`
}

// TokenResponse carries the minted JWT.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAuthService(db *sql.DB) *AuthService {
	return &AuthService{
		db:        db,
		validator: validator.New(),
	}
}

// Token exchanges API client credentials for a JWT.
func (s *AuthService) Token(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Token request from IP: %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TokenRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Token request invalid: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var hashedSecret string
	err := s.db.QueryRow("SELECT secret_hash FROM api_clients WHERE client_id = $1 AND active",
		req.ClientID).Scan(&hashedSecret)
	if err != nil {
		log.Printf("[AUTH] Unknown client: %s", req.ClientID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}
	if !verifySecret(req.ClientSecret, hashedSecret) {
		log.Printf("[AUTH] Invalid secret for client: %s", req.ClientID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
	expiresAt := time.Now().Add(expiry)
	token, err := generateJWT(req.ClientID, expiresAt)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for client %s: %v", req.ClientID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Token issued for client %s", req.ClientID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TokenResponse{Token: token, ExpiresAt: expiresAt})
}

func generateJWT(clientID string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"client_id": clientID,
		"exp":       expiresAt.Unix(),
	})
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

// HashSecret derives the stored form of a client secret. Used by
// provisioning tooling when registering a client.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifySecret(secret, hashedSecret string) bool {
	parts := strings.Split(hashedSecret, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
