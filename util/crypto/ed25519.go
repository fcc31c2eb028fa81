package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"io"

	"github.com/mr-tron/base58"
)

// Ed25519PrivKey is an ed25519 private key.
type Ed25519PrivKey struct {
	privKey ed25519.PrivateKey
}

// Ed25519PubKey is an ed25519 public key.
type Ed25519PubKey struct {
	pubKey ed25519.PublicKey
}

func NewEd25519PrivKey(privKey ed25519.PrivateKey) PrivKey {
	return &Ed25519PrivKey{privKey: privKey}
}

func NewEd25519PubKey(pubKey ed25519.PublicKey) PubKey {
	return &Ed25519PubKey{pubKey: pubKey}
}

// GenerateRandomEd25519KeyPair generates a new key pair from crypto/rand.
func GenerateRandomEd25519KeyPair() (PrivKey, PubKey, error) {
	return GenerateEd25519Key(rand.Reader)
}

// GenerateEd25519Key generates a new ed25519 private and public key pair.
func GenerateEd25519Key(src io.Reader) (PrivKey, PubKey, error) {
	pub, priv, err := ed25519.GenerateKey(src)
	if err != nil {
		return nil, nil, err
	}
	return NewEd25519PrivKey(priv), NewEd25519PubKey(pub), nil
}

// UnmarshalEd25519PrivateKey returns a private key from raw bytes.
func UnmarshalEd25519PrivateKey(data []byte) (PrivKey, error) {
	if len(data) != ed25519.PrivateKeySize {
		return nil, ErrIncorrectKeySize
	}
	return &Ed25519PrivKey{privKey: ed25519.PrivateKey(append([]byte(nil), data...))}, nil
}

// UnmarshalEd25519PublicKey returns a public key from raw bytes.
func UnmarshalEd25519PublicKey(data []byte) (PubKey, error) {
	if len(data) != ed25519.PublicKeySize {
		return nil, ErrIncorrectKeySize
	}
	return &Ed25519PubKey{pubKey: ed25519.PublicKey(append([]byte(nil), data...))}, nil
}

// DecodeAccount parses the base58 account representation of a public key.
func DecodeAccount(account string) (PubKey, error) {
	data, err := base58.Decode(account)
	if err != nil {
		return nil, err
	}
	return UnmarshalEd25519PublicKey(data)
}

// Raw private key bytes.
func (k *Ed25519PrivKey) Raw() ([]byte, error) {
	buf := make([]byte, len(k.privKey))
	copy(buf, k.privKey)
	return buf, nil
}

// Equals compares two ed25519 private keys.
func (k *Ed25519PrivKey) Equals(o Key) bool {
	edk, ok := o.(*Ed25519PrivKey)
	if !ok {
		return KeyEquals(k, o)
	}
	return subtle.ConstantTimeCompare(k.privKey, edk.privKey) == 1
}

// GetPublic returns an ed25519 public key from a private key.
func (k *Ed25519PrivKey) GetPublic() PubKey {
	pub := k.privKey[ed25519.PrivateKeySize-ed25519.PublicKeySize:]
	return &Ed25519PubKey{pubKey: ed25519.PublicKey(pub)}
}

// Sign returns a signature from an input message.
func (k *Ed25519PrivKey) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.privKey, msg), nil
}

// Raw public key bytes.
func (k *Ed25519PubKey) Raw() ([]byte, error) {
	buf := make([]byte, len(k.pubKey))
	copy(buf, k.pubKey)
	return buf, nil
}

// Equals compares two ed25519 public keys.
func (k *Ed25519PubKey) Equals(o Key) bool {
	edk, ok := o.(*Ed25519PubKey)
	if !ok {
		return KeyEquals(k, o)
	}
	return subtle.ConstantTimeCompare(k.pubKey, edk.pubKey) == 1
}

// Verify checks a signature against the input data.
func (k *Ed25519PubKey) Verify(data []byte, sig []byte) (bool, error) {
	return ed25519.Verify(k.pubKey, data, sig), nil
}

// Account returns the base58 representation of the public key.
func (k *Ed25519PubKey) Account() string {
	return base58.Encode(k.pubKey)
}
