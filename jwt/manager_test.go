package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestNewManagerValidation(t *testing.T) {
	pub, priv := newEdKeys(t)
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"ed25519", Config{TTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub}, true},
		{"hs256", Config{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("secret-secret-secret-secret")}, true},
		{"zero ttl", Config{SigningMethod: MethodHS256, PrivateKey: []byte("k")}, false},
		{"hs256 without key", Config{TTL: time.Hour, SigningMethod: MethodHS256}, false},
		{"ed25519 without public key", Config{TTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv}, false},
		{"unknown method", Config{TTL: time.Hour, SigningMethod: "rs512"}, false},
		{"excessive leeway", Config{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("k"), Leeway: time.Hour}, false},
	}
	for _, tc := range cases {
		_, err := NewManager(tc.cfg, nil)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestMintParseRoundTrip(t *testing.T) {
	pub, priv := newEdKeys(t)
	issued := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := issued
	m, err := NewManager(Config{
		TTL:           time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authsession",
		Audience:      "web",
		KeyID:         "k1",
	}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.Mint("user-1", "admin", map[string]any{"tenant": "acme", "uid": "spoofed"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	now = issued.Add(10 * time.Minute)
	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UID != "user-1" || claims.Role != "admin" {
		t.Fatalf("claims = %+v", claims)
	}
	if !claims.IssuedAt.Time.Equal(issued) {
		t.Fatalf("iat = %v, want %v", claims.IssuedAt.Time, issued)
	}

	now = issued.Add(2 * time.Hour)
	if _, err := m.Parse(token); !errors.Is(err, gjwt.ErrTokenExpired) {
		t.Fatalf("expired parse err = %v", err)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.MapClaims{
		"uid": "u",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(signed); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestMintWithoutPrivateKeyFails(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Mint("u", "", nil); err == nil {
		t.Fatal("expected verify-only manager to refuse minting")
	}
}

func TestReadClaimsAndIssuedAt(t *testing.T) {
	issued := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m, err := NewManager(Config{
		TTL:           55 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("secret-secret-secret-secret"),
	}, func() time.Time { return issued })
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.Mint("user-2", "viewer", nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := ReadClaims(token)
	if err != nil {
		t.Fatalf("ReadClaims: %v", err)
	}
	if claims["role"] != "viewer" {
		t.Fatalf("role claim = %v", claims["role"])
	}
	iat, err := IssuedAt(claims)
	if err != nil || !iat.Equal(issued) {
		t.Fatalf("IssuedAt = %v, %v", iat, err)
	}
	exp, err := ExpiresAt(claims)
	if err != nil || !exp.Equal(issued.Add(55*time.Minute)) {
		t.Fatalf("ExpiresAt = %v, %v", exp, err)
	}

	if _, err := ReadClaims("not.a.jwt"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("ReadClaims(garbage) err = %v", err)
	}
	if _, err := IssuedAt(map[string]any{"uid": "x"}); !errors.Is(err, ErrMissingIssuedAt) {
		t.Fatalf("IssuedAt(no iat) err = %v", err)
	}
}
