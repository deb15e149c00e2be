package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/codeclash/backend/internal/config"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the identity payload carried by every issued token.
type Claims struct {
	PlayerID string
	Username string
}

// GenerateToken issues a signed HS256 identity token for a player.
func GenerateToken(cfg *config.Config, playerID, username string) (string, error) {
	claims := jwt.MapClaims{
		"player_id": playerID,
		"username":  username,
		"exp":       time.Now().Add(time.Duration(cfg.TokenExpiryHours) * time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// VerifyToken validates a token string and extracts the identity claims.
func VerifyToken(cfg *config.Config, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	playerID, _ := claims["player_id"].(string)
	username, _ := claims["username"].(string)
	if playerID == "" {
		return nil, ErrInvalidToken
	}

	return &Claims{PlayerID: playerID, Username: username}, nil
}
