package keys

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
)

type publicKeyProvider interface {
	MobilePublicKey(ctx context.Context) ([]byte, error)
	PrivateKeyPEM() ([]byte, error)
	Delete() error
}

func checkStable(t *testing.T, p publicKeyProvider) {
	t.Helper()
	first, err := p.MobilePublicKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.MobilePublicKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("provider generated a second key")
	}
	pub, err := x509.ParsePKIXPublicKey(first)
	if err != nil {
		t.Fatalf("public key is not PKIX DER: %s", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecdsaPub.Curve != elliptic.P256() {
		t.Errorf("unexpected public key type %T", pub)
	}

	encoded, err := p.PrivateKeyPEM()
	if err != nil {
		t.Fatal(err)
	}
	skey, err := DecodePEM(encoded)
	if err != nil {
		t.Fatal(err)
	}
	der, _ := PublicKeyDER(skey)
	if !bytes.Equal(der, first) {
		t.Error("exported private key does not match public key")
	}

	if err := p.Delete(); err != nil {
		t.Fatal(err)
	}
	third, err := p.MobilePublicKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first, third) {
		t.Error("expected a fresh key after Delete")
	}
}

func TestKeyringProvider(t *testing.T) {
	checkStable(t, NewKeyringProvider(keyring.NewArrayKeyring(nil), "test"))
}

func TestKeyringProviderCorruptKey(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "mobileKey.test", Data: []byte{1, 2, 3}}})
	if _, err := NewKeyringProvider(ring, "test").MobilePublicKey(context.Background()); err == nil {
		t.Error("expected corrupt key to be rejected")
	}
}

func TestFileProvider(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "mobile.pem")
	checkStable(t, NewFileProvider(filename))
	info, err := os.Stat(filename)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file has mode %v", info.Mode().Perm())
	}
}

func TestDecodePEM(t *testing.T) {
	ecdsaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sec1, _ := x509.MarshalECPrivateKey(ecdsaKey)
	skey, err := DecodePEM(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1}))
	if err != nil {
		t.Fatal(err)
	}
	expected, _ := ecdsaKey.ECDH()
	if !skey.Equal(expected) {
		t.Error("SEC1 key did not round trip")
	}

	p384, _ := ecdh.P384().GenerateKey(rand.Reader)
	pkcs8, _ := x509.MarshalPKCS8PrivateKey(p384)
	if _, err := DecodePEM(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})); err == nil {
		t.Error("expected P384 key to be rejected")
	}
	if _, err := DecodePEM([]byte("not pem")); err == nil {
		t.Error("expected garbage to be rejected")
	}
}

func TestKeyringProviderSave(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	p := NewKeyringProvider(ring, "migrated")
	skey, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Save(skey); err != nil {
		t.Fatal(err)
	}
	loaded, err := p.PrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Equal(skey) {
		t.Error("keyring returned a different key")
	}

	p384, _ := ecdh.P384().GenerateKey(rand.Reader)
	if err := p.Save(p384); err != ErrInvalidPrivateKey {
		t.Errorf("expected ErrInvalidPrivateKey, got %v", err)
	}
}
