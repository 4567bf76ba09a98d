// Package secrets encrypts provider API keys at rest. Credentials are
// sealed with AES-256-GCM under a single master key loaded from the
// environment or from SSM Parameter Store.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// keySize is the AES-256 key length in bytes.
const keySize = 32

// ErrInvalidCiphertext is returned when a sealed value cannot be decoded
// or fails authentication.
var ErrInvalidCiphertext = errors.New("secrets: invalid ciphertext")

// Box seals and opens credential strings under one master key.
type Box struct {
	aead cipher.AEAD
}

// NewBox creates a Box from a raw 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	nonceSize := b.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := b.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

// LoadKey resolves the master key: WIDGET_MASTER_KEY env var (hex-encoded)
// first, then the SSM parameter named by SSM_MASTER_KEY_PARAM.
func LoadKey(ctx context.Context, ssmClient *ssm.Client) ([]byte, error) {
	if raw := os.Getenv("WIDGET_MASTER_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("secrets: WIDGET_MASTER_KEY is not valid hex: %w", err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("secrets: WIDGET_MASTER_KEY must decode to %d bytes", keySize)
		}
		return key, nil
	}

	if ssmClient == nil {
		return nil, errors.New("secrets: no master key in environment and no SSM client")
	}

	paramName := os.Getenv("SSM_MASTER_KEY_PARAM")
	if paramName == "" {
		paramName = "/heygen-widget/prod/master-key"
	}
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("secrets: read master key from SSM %s: %w", paramName, err)
	}
	key, err := hex.DecodeString(*result.Parameter.Value)
	if err != nil {
		return nil, fmt.Errorf("secrets: SSM master key is not valid hex: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: SSM master key must decode to %d bytes", keySize)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Master key loaded from SSM")
	return key, nil
}
