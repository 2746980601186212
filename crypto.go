package objdb

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// EncryptionKeySize is the only accepted length of Options.EncryptionKey.
const EncryptionKeySize = 64

var (
	rowCipherInfo   = []byte("objdb row data v1")
	canaryPlaintext = []byte("objdb encryption canary")
)

// rowCipher seals row data with XChaCha20-Poly1305 under a key derived from
// the user's 64-byte key. The object key is the associated data, so sealed
// rows cannot be swapped between keys.
type rowCipher struct {
	aead cipher.AEAD
}

func newRowCipher(key []byte) (*rowCipher, error) {
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidEncryptionKey, EncryptionKeySize, len(key))
	}
	kdf := hkdf.New(sha256.New, key, nil, rowCipherInfo)
	var derived [chacha20poly1305.KeySize]byte
	if _, err := io.ReadFull(kdf, derived[:]); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(derived[:])
	if err != nil {
		return nil, err
	}
	return &rowCipher{aead: aead}, nil
}

func (c *rowCipher) seal(dst, plaintext, ad []byte) []byte {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		panic(err)
	}
	dst = append(dst, nonce[:]...)
	return c.aead.Seal(dst, nonce[:], plaintext, ad)
}

func (c *rowCipher) open(dst, sealed, ad []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, dataErrf(sealed, 0, ErrInvalidEncryptionKey, "sealed data too short")
	}
	out, err := c.aead.Open(dst, sealed[:ns], sealed[ns:], ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncryptionKey, err)
	}
	return out, nil
}

// canary is stored in the meta bucket of an encrypted file so that opening
// with a wrong key fails immediately.
func (c *rowCipher) canary() []byte {
	return c.seal(nil, canaryPlaintext, nil)
}

func (c *rowCipher) checkCanary(sealed []byte) error {
	_, err := c.open(nil, sealed, nil)
	return err
}
