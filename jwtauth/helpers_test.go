package jwtauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func mustGenerateRSAKey(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("Failed to generate RSA key: %v", err)
	}
	return key
}

func mustPublicKeyPEM(tb testing.TB, pub *rsa.PublicKey) string {
	tb.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		tb.Fatalf("Failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func mustSign(tb testing.TB, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	tb.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		tb.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func mustVerifier(tb testing.TB, opts ...ConfigOption) *Verifier {
	tb.Helper()
	cfg, err := NewConfig(opts...)
	if err != nil {
		tb.Fatalf("Failed to create config: %v", err)
	}
	return NewVerifier(cfg)
}

func codeOf(tb testing.TB, err error) ErrorCode {
	tb.Helper()
	valErr, ok := err.(*ValidationError)
	if !ok {
		tb.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	return valErr.Code
}
