package crypter

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/securemem"
)

// OpenKey is the public half of a participant's RSA key as sent on the wire:
// big-endian modulus and exponent bytes.
type OpenKey struct {
	Modulus  []byte `json:"modulus"`
	Exponent []byte `json:"exponent"`
}

// OpenKeyFromPublic converts an rsa.PublicKey to its wire form.
func OpenKeyFromPublic(pub *rsa.PublicKey) OpenKey {
	return OpenKey{
		Modulus:  pub.N.Bytes(),
		Exponent: big.NewInt(int64(pub.E)).Bytes(),
	}
}

// PublicKey parses the open key. The modulus must be exactly bits long.
func (k OpenKey) PublicKey(bits int) (*rsa.PublicKey, error) {
	if len(k.Modulus) == 0 {
		return nil, apierr.Crypto("invalid open key", errors.New("empty modulus"))
	}
	if len(k.Exponent) == 0 || len(k.Exponent) > 4 {
		return nil, apierr.Crypto("invalid open key", fmt.Errorf("exponent length %d", len(k.Exponent)))
	}

	n := new(big.Int).SetBytes(k.Modulus)
	if n.BitLen() != bits {
		return nil, apierr.Crypto("invalid open key", fmt.Errorf("modulus is %d bits, want %d", n.BitLen(), bits))
	}
	e := new(big.Int).SetBytes(k.Exponent).Int64()
	if e < 3 || e%2 == 0 {
		return nil, apierr.Crypto("invalid open key", fmt.Errorf("bad exponent %d", e))
	}
	return &rsa.PublicKey{N: n, E: int(e)}, nil
}

// Validate checks the key against the configured modulus size.
func (k OpenKey) Validate(bits int) error {
	_, err := k.PublicKey(bits)
	return err
}

// WrapKey encrypts a symmetric key for the owner of open using RSA-OAEP with SHA-256.
func WrapKey(open OpenKey, bits int, key []byte) ([]byte, error) {
	pub, err := open.PublicKey(bits)
	if err != nil {
		return nil, err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, apierr.Crypto("wrap symmetric key", err)
	}
	return wrapped, nil
}

// KeyPair is a participant's RSA key. The private key is held as PKCS#1 DER
// in protected memory and parsed only while it is used.
type KeyPair struct {
	bits    int
	open    OpenKey
	private *securemem.Buffer
}

// GenerateKeyPair creates a new RSA key of the given modulus size.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, apierr.Crypto("generate key pair", err)
	}
	der := x509.MarshalPKCS1PrivateKey(priv)
	return &KeyPair{
		bits:    bits,
		open:    OpenKeyFromPublic(&priv.PublicKey),
		private: securemem.NewBuffer(der),
	}, nil
}

// Bits returns the modulus size.
func (kp *KeyPair) Bits() int { return kp.bits }

// OpenKey returns the public half for publishing.
func (kp *KeyPair) OpenKey() OpenKey { return kp.open }

// UnwrapKey recovers a symmetric key wrapped with WrapKey for this pair.
func (kp *KeyPair) UnwrapKey(wrapped []byte) (*securemem.Buffer, error) {
	var key []byte
	err := kp.private.WithBytes(func(der []byte) error {
		priv, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return apierr.Crypto("load private key", err)
		}
		key, err = rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
		if err != nil {
			return apierr.Crypto("unwrap symmetric key", err)
		}
		return nil
	})
	if errors.Is(err, securemem.ErrDestroyed) {
		return nil, apierr.Crypto("key pair destroyed", err)
	}
	if err != nil {
		return nil, err
	}
	return securemem.NewBuffer(key), nil
}

// Destroy wipes the private key.
func (kp *KeyPair) Destroy() {
	if kp != nil {
		kp.private.Destroy()
	}
}
