package crypter

import (
	"github.com/codefionn/tcpchat/internal/securemem"
)

// Sealed is a private message ready for relay: the one-time key wrapped for
// the recipient and the message encrypted under that key.
type Sealed struct {
	Key     []byte
	Message []byte
}

// Seal encrypts plaintext for the owner of open. A fresh symmetric key is
// generated for this call and destroyed before it returns. On error nothing
// usable is returned.
func Seal(open OpenKey, bits int, plaintext []byte) (Sealed, error) {
	key := GenerateKey()
	defer key.Destroy()

	var sealed Sealed
	err := key.WithBytes(func(k []byte) error {
		wrapped, err := WrapKey(open, bits, k)
		if err != nil {
			return err
		}
		ciphertext, err := Encrypt(k, plaintext)
		if err != nil {
			return err
		}
		sealed = Sealed{Key: wrapped, Message: ciphertext}
		return nil
	})
	if err != nil {
		return Sealed{}, err
	}
	return sealed, nil
}

// Open recovers the plaintext of a sealed message addressed to kp, with the
// zero padding removed.
func (kp *KeyPair) Open(s Sealed) ([]byte, error) {
	key, err := kp.UnwrapKey(s.Key)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	var plaintext []byte
	err = key.WithBytes(func(k []byte) error {
		padded, err := Decrypt(k, s.Message)
		if err != nil {
			return err
		}
		plaintext = append([]byte(nil), TrimPadding(padded)...)
		securemem.Wipe(padded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
