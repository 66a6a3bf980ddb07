package agent

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL bounds the validity of a single signaling auth token. A fresh
// token is signed for every dial, so the TTL only needs to cover the
// handshake.
const tokenTTL = 5 * time.Minute

// buildToken signs an ES256 token authenticating the instance against the
// signaling channel. The secret access key is the base64-encoded EC
// private key (SEC 1 DER) issued together with the access key id.
func buildToken(cfg *Config, now time.Time) (string, error) {
	key, err := parseSecretAccessKey(cfg.SecretAccessKey)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"iss": cfg.AccessKeyID,
		"aud": cfg.Account,
		"sub": cfg.Project,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign auth token: %w", err)
	}
	return signed, nil
}

// parseSecretAccessKey decodes and parses the EC private key carried in a
// secret access key.
func parseSecretAccessKey(secret string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("secret access key: base64 decode: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("secret access key: parse EC key: %w", err)
	}
	return key, nil
}
