package securestore

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/nacl/secretbox"
)

const keyFileName = "device.key"

// File is a sealed, file-backed Store. All values live in a single JSON
// document sealed with nacl/secretbox under a per-device key stored beside it.
// Writes are all-or-nothing: the document is written to a temp file and
// renamed into place.
type File struct {
	path string
	key  [32]byte
	mu   sync.Mutex
}

// NewFile opens (or initializes) a sealed store at path. The device key is
// created on first use in the same directory.
func NewFile(path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	f := &File{path: path}
	if err := f.loadOrCreateKey(filepath.Join(dir, keyFileName)); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) loadOrCreateKey(keyPath string) error {
	data, err := os.ReadFile(keyPath)
	if err == nil && len(data) == 32 {
		copy(f.key[:], data)
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read device key: %w", err)
	}

	if _, err := rand.Read(f.key[:]); err != nil {
		return fmt.Errorf("generate device key: %w", err)
	}
	if err := os.WriteFile(keyPath, f.key[:], 0o600); err != nil {
		return fmt.Errorf("write device key: %w", err)
	}
	return nil
}

// Get returns the value for key, or (nil, nil) if absent. A corrupt or
// unsealable document is treated as empty, never as an error.
func (f *File) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := f.readDoc()
	v, ok := doc[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Set stores value under key.
func (f *File) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := f.readDoc()
	doc[key] = value
	if err := f.writeDoc(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := f.readDoc()
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	if err := f.writeDoc(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// readDoc unseals and decodes the document. Any failure yields an empty
// document: a corrupt store must never crash the caller.
func (f *File) readDoc() map[string][]byte {
	sealed, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", f.path).Msg("Secure store unreadable, treating as empty")
		}
		return make(map[string][]byte)
	}
	if len(sealed) < 24 {
		log.Warn().Str("path", f.path).Msg("Secure store truncated, treating as empty")
		return make(map[string][]byte)
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &f.key)
	if !ok {
		log.Warn().Str("path", f.path).Msg("Secure store unseal failed, treating as empty")
		return make(map[string][]byte)
	}

	var doc map[string][]byte
	if err := json.Unmarshal(plain, &doc); err != nil || doc == nil {
		log.Warn().Str("path", f.path).Msg("Secure store corrupt, treating as empty")
		return make(map[string][]byte)
	}
	return doc
}

// writeDoc seals and writes the document atomically (temp file + rename).
func (f *File) writeDoc(doc map[string][]byte) error {
	plain, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &f.key)

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
