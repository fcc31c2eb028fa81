package crypto

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrIncorrectKeySize = errors.New("incorrect key size")
	ErrSignature        = errors.New("can't verify signature")
)

// Key is an abstract interface for all types of keys
type Key interface {
	// Equals returns if the keys are equal
	Equals(Key) bool

	// Raw returns raw key bytes
	Raw() ([]byte, error)
}

// PrivKey is an interface for keys that should be used for signing
type PrivKey interface {
	Key

	// Sign signs the raw bytes and returns the signature
	Sign([]byte) ([]byte, error)
	// GetPublic returns the associated public key
	GetPublic() PubKey
}

// PubKey is the public key used to verify signatures
type PubKey interface {
	Key

	// Verify verifies the signed message and the signature
	Verify(data []byte, sig []byte) (bool, error)
	// Account returns the base58 string representation of the key
	Account() string
}

func KeyEquals(k1, k2 Key) bool {
	a, err := k1.Raw()
	if err != nil {
		return false
	}
	b, err := k2.Raw()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
