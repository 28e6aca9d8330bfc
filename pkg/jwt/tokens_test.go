package jwt

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("user-1", "ada@example.com", "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "ada@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatal("expected signature failure with wrong secret")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := GenerateToken("user-1", "", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Parse(token, "secret"); !errors.Is(err, jwtlib.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestInviteLinkRoundTrip(t *testing.T) {
	token, err := GenerateInviteLink("team-1", "inv-1", "link-secret", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("generate link: %v", err)
	}
	claims, err := ParseInviteLink(token, "link-secret")
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if claims.TeamID != "team-1" || claims.InvitationID != "inv-1" {
		t.Fatalf("unexpected link claims %+v", claims)
	}
}

func TestInviteLinkIsNotABearerToken(t *testing.T) {
	token, err := GenerateToken("user-1", "", "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseInviteLink(token, "secret"); err == nil {
		t.Fatal("expected bearer token to be rejected as an invitation link")
	}
}
