package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/vidfriends/scout/internal/models"
)

const nonceSize = 24

// FileSessionStore persists the device session to a secretbox-encrypted file.
// A sibling lock file serialises access between processes sharing the file.
type FileSessionStore struct {
	path string
	key  [32]byte
	lock *flock.Flock
}

// NewFileSessionStore builds a store at path encrypted with a key derived from secret.
func NewFileSessionStore(path, secret string) (*FileSessionStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session file path must be provided")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret must be provided")
	}
	return &FileSessionStore{
		path: path,
		key:  sha256.Sum256([]byte(secret)),
		lock: flock.New(path + ".lock"),
	}, nil
}

// Load reads and decrypts the persisted session. A missing file returns ErrNoSession.
func (s *FileSessionStore) Load(_ context.Context) (models.Session, error) {
	if err := s.ensureDir(); err != nil {
		return models.Session{}, err
	}
	if err := s.lock.RLock(); err != nil {
		return models.Session{}, fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()

	sealed, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Session{}, ErrNoSession
		}
		return models.Session{}, fmt.Errorf("read session file: %w", err)
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return models.Session{}, errors.New("session file truncated")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return models.Session{}, errors.New("decrypt session file: authentication failed")
	}

	var session models.Session
	if err := json.Unmarshal(plain, &session); err != nil {
		return models.Session{}, fmt.Errorf("decode session file: %w", err)
	}
	return session, nil
}

// Save encrypts and atomically replaces the persisted session.
func (s *FileSessionStore) Save(_ context.Context, session models.Session) error {
	plain, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.key)

	if err := s.ensureDir(); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clear deletes the persisted session. Missing files are not an error.
func (s *FileSessionStore) Clear(_ context.Context) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (s *FileSessionStore) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ensure session directory: %w", err)
	}
	return nil
}
