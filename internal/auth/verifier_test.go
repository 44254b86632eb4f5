package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestVerifyDevMode(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	pr, err := v.Verify("u1:Manager")
	if err != nil {
		t.Fatal(err)
	}
	if pr.UserID != "u1" || pr.Role != "manager" {
		t.Fatalf("principal = %+v", pr)
	}
	if _, err := v.Verify("no-separator"); err == nil {
		t.Fatal("malformed dev token accepted")
	}
}

func hs256Token(t *testing.T, secret, header, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	signing := enc.EncodeToString([]byte(header)) + "." + enc.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return signing + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMACMode(t *testing.T) {
	v := &Verifier{Mode: "hmac", HMACSecret: []byte("s3cret"), UserClaim: "sub", RoleClaim: "role"}
	tok := hs256Token(t, "s3cret", `{"alg":"HS256","typ":"JWT"}`, `{"sub":"u7","role":"rep"}`)
	pr, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if pr.UserID != "u7" || pr.Role != "rep" {
		t.Fatalf("principal = %+v", pr)
	}

	bad := hs256Token(t, "wrong", `{"alg":"HS256","typ":"JWT"}`, `{"sub":"u7","role":"rep"}`)
	if _, err := v.Verify(bad); err == nil {
		t.Fatal("bad signature accepted")
	}

	missing := hs256Token(t, "s3cret", `{"alg":"HS256","typ":"JWT"}`, `{"role":"rep"}`)
	if _, err := v.Verify(missing); err == nil {
		t.Fatal("missing user claim accepted")
	}
}
