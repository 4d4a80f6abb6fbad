// Package keys manages the mobile key pair used to register with the remote API.
//
// The public half is sent to the API when registering; certificates issued for a lock are bound
// to it. Providers generate a P256 key pair the first time one is requested and return the same
// key from then on.
package keys

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrInvalidPrivateKey = errors.New("invalid private key")

// Generate creates a new P256 private key.
func Generate() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(rand.Reader)
}

// PublicKeyDER returns the PKIX, ASN.1 DER encoding of skey's public key. This is the format the
// remote API expects (base64 encoded).
func PublicKeyDER(skey *ecdh.PrivateKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(skey.PublicKey())
}

// EncodePEM encodes skey as a PKCS8 "PRIVATE KEY" PEM block.
func EncodePEM(skey *ecdh.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(skey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodePEM parses a P256 private key from either a PKCS8 ("BEGIN PRIVATE KEY") or SEC1 ("BEGIN
// EC PRIVATE KEY") PEM block.
func DecodePEM(data []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPrivateKey
	}
	var ecdsaKey *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		skey, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ecdsaKey = skey
	case "PRIVATE KEY":
		skey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		var ok bool
		if ecdsaKey, ok = skey.(*ecdsa.PrivateKey); !ok {
			return nil, ErrInvalidPrivateKey
		}
	default:
		return nil, fmt.Errorf("unrecognized PEM block type %s", block.Type)
	}
	skey, err := ecdsaKey.ECDH()
	if err != nil {
		return nil, err
	}
	if skey.Curve() != ecdh.P256() {
		return nil, ErrInvalidPrivateKey
	}
	return skey, nil
}

// UnmarshalScalar reconstructs a P256 private key from its 32-byte scalar.
func UnmarshalScalar(scalar []byte) (*ecdh.PrivateKey, error) {
	skey, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return skey, nil
}
