package token

import (
	"context"
	"fmt"
	"os"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySource provides the signing and verification keys for the authority.
// Keys are resolved once at construction; rotation means building a new
// authority.
type KeySource interface {
	// Algorithm returns the signature algorithm for the key material.
	Algorithm() jwa.SignatureAlgorithm

	// SigningKey returns the private or symmetric signing key.
	SigningKey(ctx context.Context) (jwk.Key, error)

	// VerificationKey returns the public or symmetric verification key.
	VerificationKey(ctx context.Context) (jwk.Key, error)
}

// staticKeySource serves pre-resolved key material.
type staticKeySource struct {
	alg    jwa.SignatureAlgorithm
	sign   jwk.Key
	verify jwk.Key
}

func (s *staticKeySource) Algorithm() jwa.SignatureAlgorithm { return s.alg }

func (s *staticKeySource) SigningKey(_ context.Context) (jwk.Key, error) { return s.sign, nil }

func (s *staticKeySource) VerificationKey(_ context.Context) (jwk.Key, error) {
	return s.verify, nil
}

// NewHMACKeySource builds an HS256 key source from a shared secret.
func NewHMACKeySource(secret []byte) (KeySource, error) {
	if len(secret) == 0 {
		return nil, NewKeyError("inline", "secret is empty", ErrInvalidKey)
	}
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return nil, NewKeyError("inline", "building symmetric key", err)
	}
	return &staticKeySource{alg: jwa.HS256, sign: key, verify: key}, nil
}

// NewRSAKeySourceFromPEM builds an RS256 key source from a PEM-encoded
// private key file. The verification key is derived from the private key.
func NewRSAKeySourceFromPEM(path string) (KeySource, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, NewKeyError(path, "reading key file", err)
	}
	return newRSAKeySource(path, pemData)
}

func newRSAKeySource(source string, pemData []byte) (KeySource, error) {
	priv, err := jwk.ParseKey(pemData, jwk.WithPEM(true))
	if err != nil {
		return nil, NewKeyError(source, "parsing PEM key", err)
	}
	pub, err := jwk.PublicKeyOf(priv)
	if err != nil {
		return nil, NewKeyError(source, "deriving public key", err)
	}
	return &staticKeySource{alg: jwa.RS256, sign: priv, verify: pub}, nil
}

// VaultKVReader reads a secret version from a KV v2 mount. Satisfied by
// *vaultapi.KVv2.
type VaultKVReader interface {
	Get(ctx context.Context, path string) (*vaultapi.KVSecret, error)
}

// NewVaultKeySource loads an HS256 shared secret from a Vault KV v2 field.
func NewVaultKeySource(ctx context.Context, kv VaultKVReader, path, field string) (KeySource, error) {
	secret, err := kv.Get(ctx, path)
	if err != nil {
		return nil, NewKeyError("vault:"+path, "reading secret", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, NewKeyError("vault:"+path, "secret has no data", ErrKeyNotFound)
	}
	raw, ok := secret.Data[field]
	if !ok {
		return nil, NewKeyError("vault:"+path, fmt.Sprintf("field %q not present", field), ErrKeyNotFound)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return nil, NewKeyError("vault:"+path, fmt.Sprintf("field %q is not a string", field), ErrInvalidKey)
	}
	return NewHMACKeySource([]byte(value))
}
