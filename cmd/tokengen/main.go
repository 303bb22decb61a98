// Command tokengen mints RS256 launch tokens for local testing of the
// SET_EMAIL handshake, and can generate the key pair to sign them with.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		keyFile      = flag.StringP("key", "k", "launch_key.pem", "PEM-encoded RSA private key")
		keygen       = flag.Bool("keygen", false, "write a new key pair to --key and --key.pub, then exit")
		subject      = flag.String("sub", "user123", "Subject (user ID)")
		email        = flag.String("email", "user@example.com", "Email address")
		appSessionID = flag.String("app-session-id", "", "Host app session ID")
		issuer       = flag.String("iss", "", "Issuer")
		audience     = flag.String("aud", "", "Audience")
		hours        = flag.Int("hours", 1, "Token validity in hours")
	)
	flag.Parse()

	if *keygen {
		if err := generateKeyPair(*keyFile); err != nil {
			log.Fatalf("Failed to generate key pair: %v", err)
		}
		fmt.Printf("Wrote %s and %s.pub\n", *keyFile, *keyFile)
		fmt.Printf("Export the public key with:\n  export MINIAPP_PUBLIC_KEY=\"$(cat %s.pub)\"\n", *keyFile)
		return
	}

	key, err := loadPrivateKey(*keyFile)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v (run with --keygen first)", err)
	}

	now := time.Now()
	expires := now.Add(time.Duration(*hours) * time.Hour)
	claims := jwt.MapClaims{
		"sub":   *subject,
		"email": *email,
		"exp":   expires.Unix(),
		"nbf":   now.Unix(),
		"iat":   now.Unix(),
	}
	if *appSessionID != "" {
		claims["app_session_id"] = *appSessionID
	}
	if *issuer != "" {
		claims["iss"] = *issuer
	}
	if *audience != "" {
		claims["aud"] = *audience
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println("\n=== Launch Token Generated ===")
	fmt.Printf("\nToken: %s\n\n", tokenString)
	fmt.Println("Claims:")
	fmt.Printf("  Subject: %s\n", *subject)
	fmt.Printf("  Email:   %s\n", *email)
	fmt.Printf("  Expires: %s\n\n", expires.Format(time.RFC3339))
	fmt.Println("Handshake message:")
	fmt.Printf("  {\"type\":\"SET_EMAIL\",\"data\":{\"launch_token\":%q}}\n\n", tokenString)
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPrivateKeyFromPEM(raw)
}

func generateKeyPair(path string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}

	private := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, private, 0o600); err != nil {
		return err
	}
	public := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
	return os.WriteFile(path+".pub", public, 0o644)
}
