package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	issuer         = "teamforge"
	inviteAudience = "teamforge-invite"
)

// ErrInvalidLink indicates a malformed or tampered invitation link.
var ErrInvalidLink = errors.New("invalid invitation link")

// Claims defines the bearer token payload.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwtlib.RegisteredClaims
}

// GenerateToken issues a signed bearer token with provided secret and ttl.
func GenerateToken(userID, email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}

// LinkClaims is the payload of a signed invitation link.
type LinkClaims struct {
	TeamID       string `json:"team_id"`
	InvitationID string `json:"invitation_id"`
	jwtlib.RegisteredClaims
}

// GenerateInviteLink signs (teamID, invitationID) into an opaque token that
// stops verifying after expiresAt.
func GenerateInviteLink(teamID, invitationID, secret string, expiresAt time.Time) (string, error) {
	claims := LinkClaims{
		TeamID:       teamID,
		InvitationID: invitationID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwtlib.ClaimStrings{inviteAudience},
			Subject:   invitationID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseInviteLink verifies a token produced by GenerateInviteLink.
func ParseInviteLink(token, secret string) (*LinkClaims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &LinkClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithAudience(inviteAudience),
		jwtlib.WithIssuer(issuer),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*LinkClaims)
	if !ok || !parsed.Valid || claims.TeamID == "" || claims.InvitationID == "" {
		return nil, ErrInvalidLink
	}
	return claims, nil
}
