package keystore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/signing"
)

const (
	saltLen = 16
	keyLen  = chacha20poly1305.KeySize
)

// KDFParams are the argon2id cost parameters used to derive the sealing key.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

// DefaultKDFParams are the argon2id parameters for keys at rest.
var DefaultKDFParams = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

// keyFile is the on-disk form of one private key.
type keyFile struct {
	KeyID              string     `json:"keyId"`
	PublicKeyMultibase string     `json:"publicKeyMultibase"`
	Encrypted          bool       `json:"encrypted"`
	KDF                *KDFParams `json:"kdf,omitempty"`
	Salt               string     `json:"salt,omitempty"`
	Nonce              string     `json:"nonce,omitempty"`

	// Seed is the base64 Ed25519 seed, sealed with XChaCha20-Poly1305 when
	// Encrypted is set.
	Seed string `json:"seed"`
}

// File stores one JSON file per key under a directory, named by public key
// and sealed with a passphrase-derived key. An empty passphrase stores seeds unsealed.
type File struct {
	dir        string
	passphrase string
	kdf        KDFParams
}

// FileOption configures a File key store.
type FileOption func(*File)

// WithKDFParams overrides the argon2id cost parameters.
func WithKDFParams(p KDFParams) FileOption {
	return func(f *File) {
		f.kdf = p
	}
}

// NewFile creates a key store rooted at dir.
func NewFile(dir, passphrase string, opts ...FileOption) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	f := &File{dir: dir, passphrase: passphrase, kdf: DefaultKDFParams}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *File) Put(_ context.Context, subject, keyID string, kp *signing.KeyPair) error {
	pub := kp.Multibase()
	kf := keyFile{KeyID: keyID, PublicKeyMultibase: pub}
	seed := kp.Private.Seed()

	if f.passphrase == "" {
		kf.Seed = base64.StdEncoding.EncodeToString(seed)
	} else {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generating salt: %w", err)
		}
		aead, err := chacha20poly1305.NewX(f.derive(salt, f.kdf))
		if err != nil {
			return fmt.Errorf("creating cipher: %w", err)
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("generating nonce: %w", err)
		}
		params := f.kdf
		kf.Encrypted = true
		kf.KDF = &params
		kf.Salt = base64.StdEncoding.EncodeToString(salt)
		kf.Nonce = base64.StdEncoding.EncodeToString(nonce)
		kf.Seed = base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, seed, []byte(subject+pub)))
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling key file: %w", err)
	}

	path := f.path(subject, pub)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return errs.Duplicate("key %s for %s%s is already held", pub, subject, keyID)
	}
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

func (f *File) Get(_ context.Context, subject, publicKey string) (*signing.KeyPair, error) {
	path := f.path(subject, publicKey)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.NotFound("no private key for %s %s", subject, publicKey)
	}
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}

	seed, err := base64.StdEncoding.DecodeString(kf.Seed)
	if err != nil {
		return nil, fmt.Errorf("decoding key file: %w", err)
	}

	if kf.Encrypted {
		if f.passphrase == "" {
			return nil, errs.Unauthorized("key %s%s is sealed and no passphrase was given", subject, kf.KeyID)
		}
		salt, err := base64.StdEncoding.DecodeString(kf.Salt)
		if err != nil {
			return nil, fmt.Errorf("decoding salt: %w", err)
		}
		nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
		if err != nil {
			return nil, fmt.Errorf("decoding nonce: %w", err)
		}
		params := f.kdf
		if kf.KDF != nil {
			params = *kf.KDF
		}
		aead, err := chacha20poly1305.NewX(f.derive(salt, params))
		if err != nil {
			return nil, fmt.Errorf("creating cipher: %w", err)
		}
		seed, err = aead.Open(nil, nonce, seed, []byte(subject+publicKey))
		if err != nil {
			return nil, errs.Unauthorized("cannot unseal key %s%s: wrong passphrase", subject, kf.KeyID)
		}
	}

	kp, err := signing.KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	if kp.Multibase() != publicKey || kf.PublicKeyMultibase != publicKey {
		return nil, fmt.Errorf("key file %s does not match its public key", path)
	}
	return kp, nil
}

func (f *File) Has(_ context.Context, subject, publicKey string) (bool, error) {
	_, err := os.Stat(f.path(subject, publicKey))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *File) derive(salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(f.passphrase), salt, p.Time, p.Memory, p.Threads, keyLen)
}

// path maps "did:agent:acme:alice" + "z6Mk..." to
// <dir>/did_agent_acme_alice/z6Mk....json.
func (f *File) path(subject, publicKey string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_")
	return filepath.Join(f.dir, r.Replace(subject), r.Replace(publicKey)+".json")
}
