package jwtauth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
)

const (
	pemBeginMarker = "-----BEGIN PUBLIC KEY-----"
	pemEndMarker   = "-----END PUBLIC KEY-----"
)

// keyCache memoizes imported keys per PEM input; key material is immutable after import.
var keyCache sync.Map // string -> *rsa.PublicKey

// DecodePublicKeyPEM strips the BEGIN/END PUBLIC KEY markers and all whitespace
// from pemText and base64-decodes the remaining body into raw DER bytes.
func DecodePublicKeyPEM(pemText string) ([]byte, error) {
	body := strings.ReplaceAll(pemText, pemBeginMarker, "")
	body = strings.ReplaceAll(body, pemEndMarker, "")
	body = strings.Join(strings.Fields(body), "")
	if body == "" {
		return nil, &MalformedKeyError{Reason: "empty key body"}
	}

	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, &MalformedKeyError{Reason: "body is not valid base64", Internal: err}
	}
	return der, nil
}

// LoadPublicKeyPEM decodes and imports an RSA verification key from PEM text.
// Results are cached per input string.
func LoadPublicKeyPEM(pemText string) (*rsa.PublicKey, error) {
	if cached, ok := keyCache.Load(pemText); ok {
		return cached.(*rsa.PublicKey), nil
	}

	der, err := DecodePublicKeyPEM(pemText)
	if err != nil {
		return nil, err
	}

	key, err := parseRSAPublicKeyDER(der)
	if err != nil {
		return nil, &MalformedKeyError{Reason: "cannot import key", Internal: err}
	}

	keyCache.Store(pemText, key)
	return key, nil
}

// ParseRSAPublicKeyFromPEM parses an RSA public key from a PEM file.
// Supports both PKCS#1 and PKIX (X.509) PEM formats
func ParseRSAPublicKeyFromPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &MalformedKeyError{Reason: "failed to decode PEM block"}
	}

	key, err := parseRSAPublicKeyDER(block.Bytes)
	if err != nil {
		return nil, &MalformedKeyError{Reason: "cannot import key", Internal: err}
	}
	return key, nil
}

func parseRSAPublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	// Try PKIX format first (most common)
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("key is not an RSA public key (%T)", key)
	}

	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("neither PKIX nor PKCS#1 encoding")
}
