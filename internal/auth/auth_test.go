package auth

import (
	"testing"

	"github.com/boostgram/backend/internal/models"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("password stored in plain text")
	}
	if !CheckPassword(hash, "s3cret-pass") {
		t.Fatal("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatal("wrong password accepted")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret")
	u := &models.User{ID: "user-42", Role: models.RoleAdmin}

	token, err := m.Issue(u)
	if err != nil {
		t.Fatal(err)
	}
	actor, err := m.Actor(token)
	if err != nil {
		t.Fatal(err)
	}
	if actor.ID != "user-42" || actor.Role != models.RoleAdmin {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a").Issue(&models.User{ID: "u", Role: models.RoleUser})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager("secret-b").Actor(token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
	if _, err := NewManager("secret-a").Actor("not-a-token"); err == nil {
		t.Fatal("garbage token accepted")
	}
}
