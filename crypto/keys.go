// Package crypto provides the node identity keypair. Operator addresses are
// derived from the ML-DSA public key by the address subpackage.
package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"

	"github.com/quikdb/go-quikdb-nodes/crypto/address"
)

// KeyPair bundles an ML-DSA signing key with its derived operator address
type KeyPair struct {
	priv *mldsa.PrivateKey
	pub  *mldsa.PublicKey
	addr *address.Address
}

// GenerateKeyPair creates a fresh random keypair
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := mldsa.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %v", err)
	}
	return newKeyPair(priv, pub)
}

// KeyPairFromSeed derives a deterministic keypair from a seed string.
// The same seed always yields the same operator address.
func KeyPairFromSeed(seed string) (*KeyPair, error) {
	if seed == "" {
		return nil, fmt.Errorf("key seed is required")
	}

	hash := sha256.Sum256([]byte(seed))
	pub, priv, err := mldsa.GenerateKey(bytes.NewReader(hash[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to derive key from seed: %v", err)
	}
	return newKeyPair(priv, pub)
}

func newKeyPair(priv *mldsa.PrivateKey, pub *mldsa.PublicKey) (*KeyPair, error) {
	addr, err := address.New(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %v", err)
	}
	return &KeyPair{priv: priv, pub: pub, addr: addr}, nil
}

// Address returns the operator address derived from the public key
func (kp *KeyPair) Address() *address.Address {
	return kp.addr
}

// PublicKeyBytes returns the packed public key
func (kp *KeyPair) PublicKeyBytes() []byte {
	data := make([]byte, mldsa.PublicKeySize)
	kp.pub.Pack((*[mldsa.PublicKeySize]byte)(data))
	return data
}

// Sign signs a message with the private key
func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	sig := make([]byte, mldsa.SignatureSize)
	if err := mldsa.SignTo(kp.priv, message, nil, false, sig); err != nil {
		return nil, fmt.Errorf("failed to sign: %v", err)
	}
	return sig, nil
}

// Verify checks a signature against the keypair's public key
func (kp *KeyPair) Verify(message, sig []byte) bool {
	return mldsa.Verify(kp.pub, message, nil, sig)
}
