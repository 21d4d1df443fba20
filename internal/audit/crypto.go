package audit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"go.uber.org/zap"
)

const (
	encPrefix = "enc:"
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Cipher performs authenticated field-level encryption of PII values.
// Without a usable key the cipher is inert: encryption and decryption
// both pass values through unchanged, a valid degraded mode.
type Cipher struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

// NewCipher builds a cipher from a base64-encoded 32-byte key. An
// absent, malformed, or wrong-length key yields an inert cipher, never
// an error.
func NewCipher(base64Key string, logger *zap.Logger) *Cipher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cipher{logger: logger}
	if base64Key == "" {
		return c
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil || len(key) != keySize {
		logger.Warn("pii encryption key is not a base64-encoded 32-byte value, storing pii as plaintext")
		return c
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		logger.Warn("pii encryption disabled", zap.Error(err))
		return c
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		logger.Warn("pii encryption disabled", zap.Error(err))
		return c
	}
	c.aead = aead
	return c
}

// GenerateKey produces a fresh base64-encoded 32-byte random key.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Enabled reports whether a usable key is configured.
func (c *Cipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// IsEncrypted reports whether the value carries the encrypted wire
// format prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// Encrypt seals the plaintext with AES-256-GCM under a fresh random
// nonce and returns "enc:" + base64(nonce) + ":" + base64(tag) + ":" +
// base64(ciphertext). Repeated calls on the same plaintext yield
// different outputs. Without a key the plaintext is returned unchanged.
func (c *Cipher) Encrypt(plaintext string) string {
	if !c.Enabled() {
		return plaintext
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		c.logger.Warn("pii encryption nonce generation failed", zap.Error(err))
		return plaintext
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	return encPrefix +
		base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(tag) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext)
}

// Decrypt reverses Encrypt. It fails soft: a missing prefix, wrong
// segment count, malformed base64, or authentication failure returns
// the input unchanged with a warning, never an error.
func (c *Cipher) Decrypt(value string) string {
	if !c.Enabled() || !IsEncrypted(value) {
		return value
	}
	segments := strings.Split(strings.TrimPrefix(value, encPrefix), ":")
	if len(segments) != 3 {
		c.logger.Warn("encrypted value has wrong segment count")
		return value
	}
	nonce, err := base64.StdEncoding.DecodeString(segments[0])
	if err != nil || len(nonce) != nonceSize {
		c.logger.Warn("encrypted value has malformed nonce")
		return value
	}
	tag, err := base64.StdEncoding.DecodeString(segments[1])
	if err != nil {
		c.logger.Warn("encrypted value has malformed auth tag")
		return value
	}
	ciphertext, err := base64.StdEncoding.DecodeString(segments[2])
	if err != nil {
		c.logger.Warn("encrypted value has malformed ciphertext")
		return value
	}
	plaintext, err := c.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		c.logger.Warn("encrypted value failed authentication, returning as-is")
		return value
	}
	return string(plaintext)
}

// EncryptIfPII encrypts the value when the field is PII for the
// resource type, the value is a non-empty plaintext string, and a key
// is configured. Everything else passes through.
func (c *Cipher) EncryptIfPII(registry *Registry, resourceType ResourceType, field, value string) string {
	if !c.Enabled() || value == "" || IsEncrypted(value) {
		return value
	}
	if !registry.IsPII(resourceType, field) {
		return value
	}
	return c.Encrypt(value)
}

// DecryptChanges reveals PII values inside a change list for authorized
// read paths. Fields that are not PII for the resource type and values
// that are neither encrypted strings nor arrays thereof pass through
// unchanged. A nil input returns nil; without a key the input is
// returned as-is.
func (c *Cipher) DecryptChanges(registry *Registry, resourceType ResourceType, changes []FieldChange) []FieldChange {
	if changes == nil {
		return nil
	}
	if !c.Enabled() {
		return changes
	}
	out := make([]FieldChange, len(changes))
	for i, change := range changes {
		out[i] = change
		if !registry.IsPII(resourceType, change.Field) {
			continue
		}
		out[i].Old = c.decryptValue(change.Old)
		out[i].New = c.decryptValue(change.New)
	}
	return out
}

func (c *Cipher) decryptValue(value any) any {
	switch v := value.(type) {
	case string:
		return c.Decrypt(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				out[i] = c.Decrypt(s)
			} else {
				out[i] = item
			}
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = c.Decrypt(item)
		}
		return out
	default:
		return value
	}
}
