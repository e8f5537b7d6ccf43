// Package crypter implements the private message cipher: AES-256-CBC over
// byte streams with zero padding, and RSA-OAEP wrapping of the one-time key.
//
// Zero padding is not authenticated. A receiver cannot tell padding from
// trailing NUL bytes in the plaintext and cannot detect tampering with the
// final block. Plaintexts handled here are UTF-8 text, which never ends in NUL.
package crypter

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/securemem"
)

// chunkSize is the amount of plaintext processed per round. Multiple of the block size.
const chunkSize = 4 * 1024

// GenerateKey returns a fresh AES-256 key in protected memory.
func GenerateKey() *securemem.Buffer {
	return securemem.NewRandom(consts.SymmetricKeySize)
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != consts.SymmetricKeySize {
		return nil, apierr.Crypto("invalid symmetric key", fmt.Errorf("want %d bytes, got %d", consts.SymmetricKeySize, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierr.Crypto("invalid symmetric key", err)
	}
	return block, nil
}

// EncryptStream reads plaintext from src until EOF and writes IV || ciphertext
// to dst. The final partial block is padded with zero bytes; input that is
// already block aligned gets no extra block.
func EncryptStream(key []byte, src io.Reader, dst io.Writer) error {
	block, err := newBlock(key)
	if err != nil {
		return err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return apierr.Crypto("generate iv", err)
	}
	if _, err := dst.Write(iv); err != nil {
		return fmt.Errorf("write iv: %w", err)
	}

	mode := cipher.NewCBCEncrypter(block, iv)
	buf := make([]byte, chunkSize)
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			padded := n
			if rem := n % aes.BlockSize; rem != 0 {
				padded = n + aes.BlockSize - rem
				clear(buf[n:padded])
			}
			mode.CryptBlocks(buf[:padded], buf[:padded])
			if _, err := dst.Write(buf[:padded]); err != nil {
				return fmt.Errorf("write ciphertext: %w", err)
			}
		}
		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read plaintext: %w", readErr)
		}
	}
}

// DecryptStream reverses EncryptStream. The zero padding is written to dst
// as-is; use TrimPadding on the result.
func DecryptStream(key []byte, src io.Reader, dst io.Writer) error {
	block, err := newBlock(key)
	if err != nil {
		return err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		return apierr.Crypto("ciphertext shorter than iv", err)
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	buf := make([]byte, chunkSize)
	for {
		n, readErr := io.ReadFull(src, buf)
		if n%aes.BlockSize != 0 {
			return apierr.Crypto("ciphertext is not block aligned", nil)
		}
		if n > 0 {
			mode.CryptBlocks(buf[:n], buf[:n])
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write plaintext: %w", err)
			}
		}
		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read ciphertext: %w", readErr)
		}
	}
}

// Encrypt is EncryptStream over byte slices.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(aes.BlockSize + len(plaintext) + aes.BlockSize)
	if err := EncryptStream(key, bytes.NewReader(plaintext), &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Decrypt is DecryptStream over byte slices. The result keeps its padding.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(ciphertext))
	if err := DecryptStream(key, bytes.NewReader(ciphertext), &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// TrimPadding strips trailing zero bytes.
func TrimPadding(plaintext []byte) []byte {
	return bytes.TrimRight(plaintext, "\x00")
}
