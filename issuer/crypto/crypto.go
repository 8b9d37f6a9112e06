package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/meridianid/issuer/issuer/core"
)

const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32

	signingKeyTTL = 90 * 24 * time.Hour
)

// PasswordHasher hashes and verifies passwords with Argon2id.
type PasswordHasher struct{}

// NewPasswordHasher creates a new PasswordHasher.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{}
}

// Hash generates an Argon2id hash of the password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))

	return encoded, nil
}

// Verify checks if a password matches the given hash.
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, fmt.Errorf("parse hash: invalid format")
	}
	var memory, timeParam uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeParam, &threads); err != nil {
		return false, fmt.Errorf("parse hash: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, timeParam, memory, threads, argon2KeyLen)
	if len(hash) != len(expectedHash) {
		return false, nil
	}

	var result byte
	for i := range hash {
		result |= hash[i] ^ expectedHash[i]
	}

	return result == 0, nil
}

// HashToken creates a SHA256 hash of an opaque token for storage/lookup keys.
func HashToken(s string) string {
	hash := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// VerifyPKCE checks a PKCE code_verifier against the stored challenge per RFC 7636.
func VerifyPKCE(verifier, challenge, method string) bool {
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return computed == challenge
	case "plain", "":
		return verifier == challenge
	default:
		return false
	}
}

// KeyManager owns the issuer-wide JWT signing key ring: it generates ES256
// keys, encrypts the private half at rest with the master key, and resolves
// kid to a public key for verification.
type KeyManager struct {
	keys      core.SigningKeyStore
	masterKey []byte
}

// NewKeyManager creates a new KeyManager. masterKey may be nil in
// non-production setups, in which case keys are stored unencrypted.
func NewKeyManager(keys core.SigningKeyStore, masterKey []byte) *KeyManager {
	return &KeyManager{keys: keys, masterKey: masterKey}
}

// GenerateKey generates a new ES256 signing key and persists it as active.
// It leaves any previously active key untouched; callers rotate explicitly
// via RotateKeys.
func (m *KeyManager) GenerateKey(ctx context.Context) (*core.SigningKey, error) {
	privateKey, kid, jwkJSON, err := m.generate()
	if err != nil {
		return nil, err
	}

	privBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	encrypted, err := encryptPrivateKey(privBytes, m.masterKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}

	key := &core.SigningKey{
		ID:         uuid.New().String(),
		KID:        kid,
		Alg:        "ES256",
		PrivateKey: encrypted,
		PublicJWK:  jwkJSON,
		Status:     "active",
		CreatedAt:  time.Now(),
	}
	if err := m.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}
	return key, nil
}

// ActiveKey returns the currently active signing key.
func (m *KeyManager) ActiveKey(ctx context.Context) (*core.SigningKey, error) {
	return m.keys.GetActive(ctx)
}

// KeyByKID resolves a signing key by its kid, for verification of tokens
// signed by a previous (still-valid) key.
func (m *KeyManager) KeyByKID(ctx context.Context, kid string) (*core.SigningKey, error) {
	return m.keys.GetByKID(ctx, kid)
}

// JWKS returns the public JWK Set of all active keys.
func (m *KeyManager) JWKS(ctx context.Context) (map[string]interface{}, error) {
	keys, err := m.keys.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	jwks := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		var jwk map[string]interface{}
		if err := json.Unmarshal(key.PublicJWK, &jwk); err != nil {
			continue
		}
		jwks = append(jwks, jwk)
	}
	return map[string]interface{}{"keys": jwks}, nil
}

// RotateKeys marks the current active key inactive (still verifiable, no
// longer used for signing) and generates a fresh one.
func (m *KeyManager) RotateKeys(ctx context.Context) error {
	current, err := m.keys.GetActive(ctx)
	if err == nil && current != nil {
		if err := m.keys.MarkInactive(ctx, current.ID); err != nil {
			return fmt.Errorf("mark inactive: %w", err)
		}
	}
	_, err = m.GenerateKey(ctx)
	return err
}

// Sign signs a claim set with the active signing key.
func (m *KeyManager) Sign(ctx context.Context, claims map[string]interface{}) (string, error) {
	key, err := m.keys.GetActive(ctx)
	if err != nil {
		return "", fmt.Errorf("get active key: %w", err)
	}
	return SignClaims(key, m.masterKey, claims)
}

func (m *KeyManager) generate() (*ecdsa.PrivateKey, string, []byte, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", nil, fmt.Errorf("generate key: %w", err)
	}
	kid := uuid.New().String()

	jwk := map[string]interface{}{
		"kty": "EC",
		"crv": "P-256",
		"kid": kid,
		"x":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.Y.Bytes()),
		"use": "sig",
		"alg": "ES256",
	}
	jwkJSON, err := json.Marshal(jwk)
	if err != nil {
		return nil, "", nil, fmt.Errorf("marshal jwk: %w", err)
	}
	return privateKey, kid, jwkJSON, nil
}

func decodePrivateKey(encrypted, masterKey []byte) (*ecdsa.PrivateKey, error) {
	raw, err := decryptPrivateKey(encrypted, masterKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}
	return x509.ParseECPrivateKey(raw)
}

func parsePublicJWK(jwkJSON []byte) (*ecdsa.PublicKey, error) {
	var jwk map[string]interface{}
	if err := json.Unmarshal(jwkJSON, &jwk); err != nil {
		return nil, fmt.Errorf("parse jwk: %w", err)
	}
	xB64, _ := jwk["x"].(string)
	yB64, _ := jwk["y"].(string)
	crv, _ := jwk["crv"].(string)

	xBytes, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}

	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", crv)
	}

	x, y := new(big.Int).SetBytes(xBytes), new(big.Int).SetBytes(yBytes)
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// SignClaims signs a set of JWT claims with the given signing key.
func SignClaims(key *core.SigningKey, masterKey []byte, claims map[string]interface{}) (string, error) {
	privateKey, err := decodePrivateKey(key.PrivateKey, masterKey)
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}

	tokenClaims := jwt.MapClaims{}
	for k, v := range claims {
		tokenClaims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, tokenClaims)
	token.Header["kid"] = key.KID

	return token.SignedString(privateKey)
}

// VerifyJWT parses and validates a JWT, resolving its signing key by kid
// through lookupKey, and returns the raw claim map.
func VerifyJWT(tokenString string, lookupKey func(kid string) (*core.SigningKey, error)) (jwt.MapClaims, error) {
	var resolvedKey *core.SigningKey
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid header")
		}
		key, err := lookupKey(kid)
		if err != nil {
			return nil, fmt.Errorf("resolve key: %w", err)
		}
		resolvedKey = key
		return parsePublicJWK(key.PublicJWK)
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	_ = resolvedKey

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	return claims, nil
}

// encryptPrivateKey seals a private key with XChaCha20-Poly1305 under the
// master key. With no master key configured, the key is stored as plaintext
// (dev mode).
func encryptPrivateKey(plaintext, key []byte) ([]byte, error) {
	if key == nil {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptPrivateKey opens a private key sealed by encryptPrivateKey.
func decryptPrivateKey(ciphertext, key []byte) ([]byte, error) {
	if key == nil {
		return ciphertext, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}
