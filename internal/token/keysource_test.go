package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHMACKeySource(t *testing.T) {
	t.Parallel()

	keys, err := NewHMACKeySource([]byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, jwa.HS256, keys.Algorithm())

	sign, err := keys.SigningKey(context.Background())
	require.NoError(t, err)
	verify, err := keys.VerificationKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sign, verify)
}

func TestNewHMACKeySourceEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := NewHMACKeySource(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewRSAKeySourceFromPEM(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signing.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(path, pemData, 0o600))

	keys, err := NewRSAKeySourceFromPEM(path)
	require.NoError(t, err)
	assert.Equal(t, jwa.RS256, keys.Algorithm())

	sign, err := keys.SigningKey(context.Background())
	require.NoError(t, err)
	verify, err := keys.VerificationKey(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, sign, verify)
}

func TestNewRSAKeySourceFromPEMErrors(t *testing.T) {
	t.Parallel()

	_, err := NewRSAKeySourceFromPEM(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err = NewRSAKeySourceFromPEM(path)
	require.Error(t, err)
	var keyErr *KeyError
	assert.ErrorAs(t, err, &keyErr)
}

// stubKVReader fakes a Vault KV v2 mount.
type stubKVReader struct {
	secret *vaultapi.KVSecret
	err    error
}

func (s *stubKVReader) Get(_ context.Context, _ string) (*vaultapi.KVSecret, error) {
	return s.secret, s.err
}

func TestNewVaultKeySource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kv      *stubKVReader
		wantErr error
	}{
		{
			name: "valid secret",
			kv: &stubKVReader{secret: &vaultapi.KVSecret{
				Data: map[string]interface{}{"signing_key": "super-secret"},
			}},
		},
		{
			name:    "read error",
			kv:      &stubKVReader{err: errors.New("vault sealed")},
			wantErr: errors.New("vault sealed"),
		},
		{
			name:    "no data",
			kv:      &stubKVReader{secret: &vaultapi.KVSecret{}},
			wantErr: ErrKeyNotFound,
		},
		{
			name: "missing field",
			kv: &stubKVReader{secret: &vaultapi.KVSecret{
				Data: map[string]interface{}{"other": "value"},
			}},
			wantErr: ErrKeyNotFound,
		},
		{
			name: "non-string field",
			kv: &stubKVReader{secret: &vaultapi.KVSecret{
				Data: map[string]interface{}{"signing_key": 42},
			}},
			wantErr: ErrInvalidKey,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			keys, err := NewVaultKeySource(context.Background(), tt.kv, "authcore/token", "signing_key")
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, jwa.HS256, keys.Algorithm())
				return
			}
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr.Error())
		})
	}
}

func TestHashIsStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Hash("abc"), Hash("abc"))
	assert.NotEqual(t, Hash("abc"), Hash("abd"))
	assert.Len(t, Hash("abc"), 64)
}
