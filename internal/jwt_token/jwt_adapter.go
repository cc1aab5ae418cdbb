package jwttoken

import (
	id "trustcert/pkg/domain"
	authmw "trustcert/pkg/platform/middleware/auth"
)

func ToMiddlewareClaims(claims *AccessTokenClaims) *authmw.JWTClaims {
	// ValidateToken already checked the id parses.
	principalID, _ := id.ParsePrincipalID(claims.PrincipalID)
	return &authmw.JWTClaims{
		PrincipalID: principalID,
		Username:    claims.Username,
		Role:        claims.Role,
		JTI:         claims.ID,
	}
}

type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
