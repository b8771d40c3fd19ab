// Package ringkey manages the symmetric ring key shared by every member of a
// trust domain.
//
// Gossip traffic between members holding the same ring key is encrypted with
// NaCl secretbox (XSalsa20 and Poly1305). Members without the key cannot read
// or inject messages.
package ringkey

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// formatVersion is the first line of an encoded key.
	formatVersion = "SYM-SEC-1"

	// KeySize is the size of the secret in bytes.
	KeySize = 32
	// NonceSize is the size of the nonce generated for each sealed message.
	NonceSize = 24

	revisionLayout = "20060102150405"
)

var (
	ErrInvalidKey   = errors.New("invalid ring key")
	ErrInvalidNonce = errors.New("invalid nonce")
	ErrDecrypt      = errors.New("decrypt failed")
)

// Key is a named symmetric key.
type Key struct {
	// Name identifies the key including its revision, such as
	// 'prod-20240102150405'.
	Name string

	secret [KeySize]byte
}

// Generate creates a new random key with the given name. A revision
// timestamp is appended to the name.
func Generate(name string) (*Key, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidKey)
	}

	key := &Key{
		Name: name + "-" + time.Now().UTC().Format(revisionLayout),
	}
	if _, err := io.ReadFull(rand.Reader, key.secret[:]); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return key, nil
}

// New creates a key from the given secret.
func New(name string, secret []byte) (*Key, error) {
	if len(secret) != KeySize {
		return nil, fmt.Errorf(
			"%w: secret must be %d bytes, got %d", ErrInvalidKey, KeySize, len(secret),
		)
	}
	key := &Key{Name: name}
	copy(key.secret[:], secret)
	return key, nil
}

// Parse parses an encoded key, in the format written by Encode.
func Parse(b []byte) (*Key, error) {
	scanner := bufio.NewScanner(bytes.NewReader(b))

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	// Format is the version, the name, an empty line then the base64
	// encoded secret.
	if len(lines) < 4 {
		return nil, fmt.Errorf("%w: truncated", ErrInvalidKey)
	}
	if lines[0] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version: %s", ErrInvalidKey, lines[0])
	}
	if lines[1] == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidKey)
	}

	secret, err := base64.StdEncoding.DecodeString(lines[3])
	if err != nil {
		return nil, fmt.Errorf("%w: decode secret: %w", ErrInvalidKey, err)
	}
	return New(lines[1], secret)
}

// Load reads and parses the key file at the given path.
func Load(path string) (*Key, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %s: %w", path, err)
	}
	return Parse(b)
}

// Encode returns the key in its text format.
func (k *Key) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(formatVersion + "\n")
	buf.WriteString(k.Name + "\n\n")
	buf.WriteString(base64.StdEncoding.EncodeToString(k.secret[:]))
	return buf.Bytes()
}

// Seal encrypts the given plaintext with a fresh random nonce. Returns the
// nonce and ciphertext.
func (k *Key) Seal(plaintext []byte) ([]byte, []byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &k.secret)
	return nonce[:], ciphertext, nil
}

// Open decrypts a ciphertext sealed with the same key.
func (k *Key) Open(nonce []byte, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonce
	}
	var n [NonceSize]byte
	copy(n[:], nonce)

	plaintext, ok := secretbox.Open(nil, ciphertext, &n, &k.secret)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
