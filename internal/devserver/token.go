package devserver

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omochice/roomchat/pkg/protocol"
)

type tokenClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

func (s *Server) issueToken(user protocol.User) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Name: user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verifyToken(raw string) (protocol.User, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return protocol.User{}, err
	}
	return protocol.User{ID: claims.Subject, Name: claims.Name}, nil
}
