// Package crypto is a reference implementation of the Crypto capability
// (§4.15, §6): keypair generation and signing via ed25519, asymmetric
// encryption via nacl/box, symmetric encrypt/decrypt via AES-CTR with a
// password-derived key, and a bounded-iteration proof-of-work function.
// Consumed by user code, not by the core wire/peer/relay path — the core
// never decrypts or verifies payload bytes itself.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/pbkdf2"
)

// Version is the suite string stamped into every envelope's "v" field.
const Version = "hamgraph-sea-1"

const (
	pbkdf2Iterations = 150_000
	aesKeyLen        = 32
)

// SigningKeyPair is an ed25519 keypair used for Sign/Verify.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// BoxKeyPair is a curve25519 keypair used for asymmetric encryption.
type BoxKeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// Envelope is the wire shape produced by Encrypt and consumed by Decrypt
// (§6, §9): ciphertext, iv (nonce), salt, and the suite version string.
type Envelope struct {
	CT string `json:"ct"`
	IV string `json:"iv"`
	S  string `json:"s"`
	V  string `json:"v"`
}

// GenerateSigningKeyPair mints a fresh ed25519 keypair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate signing keypair: %w", err)
	}
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// Sign signs msg with priv.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid signature of msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// GenerateBoxKeyPair mints a fresh curve25519 keypair for asymmetric
// encryption.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate box keypair: %w", err)
	}
	return &BoxKeyPair{Public: pub, Private: priv}, nil
}

// EncryptAsymmetric seals msg for recipientPub using senderPriv, returning
// the envelope shape. S (salt) is unused for the asymmetric path and left
// empty; V still carries the suite version.
func EncryptAsymmetric(msg []byte, recipientPub *[32]byte, senderPriv *[32]byte) (*Envelope, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := box.Seal(nil, msg, &nonce, recipientPub, senderPriv)
	return &Envelope{
		CT: base64.StdEncoding.EncodeToString(sealed),
		IV: base64.StdEncoding.EncodeToString(nonce[:]),
		V:  Version,
	}, nil
}

// DecryptAsymmetric opens an Envelope produced by EncryptAsymmetric.
func DecryptAsymmetric(env *Envelope, senderPub *[32]byte, recipientPriv *[32]byte) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(env.CT)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ct: %w", err)
	}
	ivBytes, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(ivBytes) != 24 {
		return nil, errors.New("crypto: malformed iv")
	}
	var nonce [24]byte
	copy(nonce[:], ivBytes)
	opened, ok := box.Open(nil, ct, &nonce, senderPub, recipientPriv)
	if !ok {
		return nil, errors.New("crypto: decryption failed")
	}
	return opened, nil
}

// deriveKey derives an AES-256 key from password and salt via PBKDF2-SHA256,
// matching the ecosystem's password-based key derivation convention.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
}

// EncryptSymmetric AES-CTR encrypts msg under a key derived from password,
// producing the {ct, iv, s, v} envelope (§6, §9). The source ecosystem's
// ad-hoc XOR "encryption" is explicitly not reproduced; this is real
// AES-CTR with a salted KDF.
func EncryptSymmetric(msg []byte, password string) (*Envelope, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("crypto: iv: %w", err)
	}
	ct := make([]byte, len(msg))
	cipher.NewCTR(block, iv).XORKeyStream(ct, msg)
	return &Envelope{
		CT: base64.StdEncoding.EncodeToString(ct),
		IV: base64.StdEncoding.EncodeToString(iv),
		S:  base64.StdEncoding.EncodeToString(salt),
		V:  Version,
	}, nil
}

// DecryptSymmetric reverses EncryptSymmetric.
func DecryptSymmetric(env *Envelope, password string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(env.CT)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ct: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errors.New("crypto: malformed iv")
	}
	salt, err := base64.StdEncoding.DecodeString(env.S)
	if err != nil {
		return nil, errors.New("crypto: malformed salt")
	}
	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	msg := make([]byte, len(ct))
	cipher.NewCTR(block, iv).XORKeyStream(msg, ct)
	return msg, nil
}

// ErrWorkExhausted is returned by ProofOfWork when maxIterations is
// reached without finding a nonce satisfying difficulty.
var ErrWorkExhausted = errors.New("crypto: proof of work exhausted iteration budget")

// ProofOfWork searches for a nonce such that sha256(data || nonce) has at
// least difficulty leading zero bits, bounded by maxIterations (§4.15's
// "bounded iterations", preventing an unbounded loop from a hostile
// difficulty value).
func ProofOfWork(data []byte, difficulty, maxIterations int) (nonce uint64, hash [32]byte, err error) {
	buf := make([]byte, len(data)+8)
	copy(buf, data)
	for i := 0; i < maxIterations; i++ {
		nonce = uint64(i)
		putUint64(buf[len(data):], nonce)
		hash = sha256.Sum256(buf)
		if leadingZeroBits(hash[:]) >= difficulty {
			return nonce, hash, nil
		}
	}
	return 0, [32]byte{}, ErrWorkExhausted
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
}

func leadingZeroBits(b []byte) int {
	count := 0
	for _, byt := range b {
		if byt == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask > 0; mask >>= 1 {
			if byt&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}
