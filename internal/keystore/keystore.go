// Package keystore implements the secure restore-token store of spec §4.3:
// a keyring-first secret store with an opt-in encrypted-file fallback,
// atomic token rotation, and a source-id index sidecar for enumeration.
//
// The OS keyring backend uses github.com/zalando/go-keyring, the Go
// ecosystem's equivalent of the Rust `keyring` crate referenced by
// original_source — it already wraps Secret Service, Credential Manager and
// Keychain behind one Set/Get/Delete surface. The file fallback's AEAD uses
// golang.org/x/crypto's chacha20poly1305 and hkdf packages.
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/zalando/go-keyring"

	"github.com/becksclair/screenshot-capture-engine/internal/engineconfig"
	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/telemetry"
)

// keyringSetFn, keyringGetFn and keyringDeleteFn indirect the go-keyring
// calls so tests can force a deterministic unavailable/available keyring
// without depending on a real Secret Service/Credential Manager/Keychain
// being reachable in the test environment.
var (
	keyringSetFn    = keyring.Set
	keyringGetFn    = keyring.Get
	keyringDeleteFn = keyring.Delete
)

const (
	// serviceName is the keyring service namespace (spec §4.3).
	serviceName = "screenshot-mcp-wayland"
	// hkdfSalt derives the file-fallback encryption key (spec §6).
	hkdfSalt = "screenshot-mcp-wayland-v2"
	// fileFormatVersionV2 is the current on-disk token file version.
	fileFormatVersionV2 = byte(2)
	nonceSize           = 12
)

// Store is the thread-safe restore-token store. The in-memory cache is the
// source of truth for concurrent readers; persistence (keyring or
// encrypted-file write) happens after the cache update is released, so
// reads never wait on disk or keyring I/O (spec §4.3, §5).
type Store struct {
	cfg engineconfig.Config

	cacheMu sync.RWMutex
	cache   map[string]string // source-id -> token, authoritative for reads

	writeMu sync.Mutex // serializes store/delete/rotate persistence

	keyringOnce      sync.Once
	keyringAvailable bool

	encKey [32]byte
}

// New constructs a Store and loads the persisted source-id index (and, for
// the file backend, the tokens it indexes) into the in-memory cache.
func New(cfg engineconfig.Config) *Store {
	s := &Store{
		cfg:   cfg,
		cache: make(map[string]string),
	}
	s.encKey = deriveEncryptionKey()
	s.loadFromDisk()
	return s
}

func deriveEncryptionKey() [32]byte {
	hostname, _ := os.Hostname()
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	ikm := append([]byte(hostname), []byte(username)...)
	var key [32]byte
	hk := hkdf.New(sha256.New, ikm, []byte(hkdfSalt), []byte("chacha20poly1305-key"))
	if _, err := io.ReadFull(hk, key[:]); err != nil {
		// HKDF-SHA256 expanding to 32 bytes cannot fail; this guards against
		// a future change to the parameters above.
		panic(fmt.Sprintf("keystore: hkdf expand: %v", err))
	}
	return key
}

func (s *Store) keyringKey(sourceID string) string {
	return fmt.Sprintf("%s-%s", serviceName, sourceID)
}

// keyringReady lazily detects keyring availability via a store-retrieve-
// delete roundtrip, classifying environments that accept writes but cannot
// read them back (some headless/CI containers) as unavailable (spec §4.3).
func (s *Store) keyringReady() bool {
	s.keyringOnce.Do(func() {
		probeKey := s.keyringKey("__probe__")
		const probeVal = "probe"
		if err := keyringSetFn(serviceName, probeKey, probeVal); err != nil {
			s.keyringAvailable = false
			return
		}
		got, err := keyringGetFn(serviceName, probeKey)
		_ = keyringDeleteFn(serviceName, probeKey)
		s.keyringAvailable = err == nil && got == probeVal
	})
	return s.keyringAvailable
}

// StoreToken persists token under source-id, preferring the keyring and
// falling back to the encrypted file only when AllowFileFallback is set.
func (s *Store) StoreToken(sourceID, token string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.cacheMu.Lock()
	s.cache[sourceID] = token
	s.cacheMu.Unlock()

	return s.persist(sourceID, token)
}

func (s *Store) persist(sourceID, token string) error {
	if s.keyringReady() {
		if err := keyringSetFn(serviceName, s.keyringKey(sourceID), token); err != nil {
			return engineerror.NewKeyringOperationFailed("store", err)
		}
		return s.recordSourceID(sourceID)
	}
	if !s.cfg.AllowFileFallback {
		return engineerror.NewKeyringUnavailable("store")
	}
	if err := s.writeFileStore(); err != nil {
		return err
	}
	return s.recordSourceID(sourceID)
}

// RetrieveToken returns the token for source-id, or ("", nil) if none is
// stored.
func (s *Store) RetrieveToken(sourceID string) (string, error) {
	s.cacheMu.RLock()
	token, ok := s.cache[sourceID]
	s.cacheMu.RUnlock()
	if ok {
		return token, nil
	}
	return "", nil
}

// HasToken reports whether a token is currently stored for source-id.
func (s *Store) HasToken(sourceID string) bool {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	_, ok := s.cache[sourceID]
	return ok
}

// DeleteToken removes the token for source-id from both the in-memory
// cache and the backing store. Deleting a nonexistent token is not an error.
func (s *Store) DeleteToken(sourceID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.cacheMu.Lock()
	delete(s.cache, sourceID)
	s.cacheMu.Unlock()

	if s.keyringReady() {
		if err := keyringDeleteFn(serviceName, s.keyringKey(sourceID)); err != nil && err != keyring.ErrNotFound {
			return engineerror.NewKeyringOperationFailed("delete", err)
		}
	} else if s.cfg.AllowFileFallback {
		if err := s.writeFileStore(); err != nil {
			return err
		}
	}
	return s.removeSourceID(sourceID)
}

// RotateToken atomically replaces the token for source-id with newToken,
// failing with TokenNotFound if none existed (spec §4.3, §8). The in-memory
// swap happens under a single critical section; persistence to the backing
// store happens after the lock is released, so concurrent readers always
// observe either the old or the new token, never neither (spec §5, §8).
func (s *Store) RotateToken(sourceID, newToken string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.cacheMu.Lock()
	_, existed := s.cache[sourceID]
	if !existed {
		s.cacheMu.Unlock()
		return engineerror.NewTokenNotFound(sourceID)
	}
	s.cache[sourceID] = newToken
	s.cacheMu.Unlock()

	return s.persist(sourceID, newToken)
}

// ListSourceIDs returns every source-id known to the index, which is
// maintained as a superset of (and eventually equal to) the live token set
// across keyring and file backends (spec §3 TokenRecord invariant ii).
func (s *Store) ListSourceIDs() ([]string, error) {
	ids, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}

// --- source-id index sidecar -------------------------------------------------

func (s *Store) readIndex() (map[string]struct{}, error) {
	data, err := os.ReadFile(engineconfig.IndexFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, engineerror.NewIOError("read_index", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, engineerror.NewIOError("parse_index", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *Store) writeIndex(ids map[string]struct{}) error {
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return engineerror.NewIOError("marshal_index", err)
	}
	dir := engineconfig.DataDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return engineerror.NewIOError("mkdir", err)
	}
	if err := os.WriteFile(engineconfig.IndexFilePath(), data, 0o600); err != nil {
		return engineerror.NewIOError("write_index", err)
	}
	return nil
}

func (s *Store) recordSourceID(sourceID string) error {
	ids, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := ids[sourceID]; ok {
		return nil
	}
	ids[sourceID] = struct{}{}
	return s.writeIndex(ids)
}

func (s *Store) removeSourceID(sourceID string) error {
	ids, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := ids[sourceID]; !ok {
		return nil
	}
	delete(ids, sourceID)
	return s.writeIndex(ids)
}

// --- encrypted file fallback --------------------------------------------------

// writeFileStore re-encrypts and persists the entire in-memory cache to the
// v2 token file (spec §4.3, §6): [version=2:1][nonce:12][ciphertext].
func (s *Store) writeFileStore() error {
	s.cacheMu.RLock()
	snapshot := make(map[string]string, len(s.cache))
	for k, v := range s.cache {
		snapshot[k] = v
	}
	s.cacheMu.RUnlock()

	plaintext, err := json.Marshal(snapshot)
	if err != nil {
		return engineerror.NewEncryptionFailed("marshal", err)
	}

	aead, err := chacha20poly1305.New(s.encKey[:])
	if err != nil {
		return engineerror.NewEncryptionFailed("init_cipher", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return engineerror.NewEncryptionFailed("nonce", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, 1+nonceSize+len(ciphertext))
	out = append(out, fileFormatVersionV2)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	dir := engineconfig.DataDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return engineerror.NewIOError("mkdir", err)
	}
	if err := os.WriteFile(engineconfig.TokenFilePath(), out, 0o600); err != nil {
		return engineerror.NewIOError("write_token_file", err)
	}
	return nil
}

// legacyNonce is the fixed nonce used by the deprecated v1 file format.
var legacyNonce = make([]byte, nonceSize)

// readFileStore decrypts the token file, transparently upgrading a legacy
// v1 file to v2 on successful load (spec §4.3).
func (s *Store) readFileStore() (map[string]string, error) {
	data, err := os.ReadFile(engineconfig.TokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, engineerror.NewIOError("read_token_file", err)
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}

	aead, err := chacha20poly1305.New(s.encKey[:])
	if err != nil {
		return nil, engineerror.NewEncryptionFailed("init_cipher", err)
	}

	var plaintext []byte
	isLegacy := false
	switch {
	case data[0] == fileFormatVersionV2 && len(data) >= 1+nonceSize:
		nonce := data[1 : 1+nonceSize]
		ciphertext := data[1+nonceSize:]
		plaintext, err = aead.Open(nil, nonce, ciphertext, nil)
	default:
		// v1 legacy: the whole file is ciphertext, encrypted with a fixed
		// all-zero nonce (spec §3 TokenRecord, §4.3).
		isLegacy = true
		plaintext, err = aead.Open(nil, legacyNonce, data, nil)
	}
	if err != nil {
		return nil, engineerror.NewEncryptionFailed("decrypt", err)
	}

	var tokens map[string]string
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, engineerror.NewEncryptionFailed("unmarshal", err)
	}

	if isLegacy {
		telemetry.Component("keystore").Warn().Msg("token file is legacy v1 format; rewriting as v2")
	}
	return tokens, nil
}

// loadFromDisk populates the in-memory cache from whichever backend holds
// data at process start: if the keyring round-trip succeeds, tokens already
// named in the index are fetched individually; otherwise (and when file
// fallback is enabled) the encrypted file is decrypted wholesale.
func (s *Store) loadFromDisk() {
	ids, err := s.readIndex()
	if err != nil {
		telemetry.Component("keystore").Warn().Err(err).Msg("failed to read source-id index")
		ids = map[string]struct{}{}
	}

	if s.keyringReady() {
		s.cacheMu.Lock()
		for id := range ids {
			if tok, err := keyringGetFn(serviceName, s.keyringKey(id)); err == nil {
				s.cache[id] = tok
			}
		}
		s.cacheMu.Unlock()
		return
	}

	if !s.cfg.AllowFileFallback {
		return
	}
	tokens, err := s.readFileStore()
	if err != nil {
		telemetry.Component("keystore").Warn().Err(err).Msg("failed to load encrypted token file")
		return
	}
	s.cacheMu.Lock()
	for id, tok := range tokens {
		s.cache[id] = tok
	}
	s.cacheMu.Unlock()
	// Rewrite immediately so a legacy v1 file is upgraded on first load.
	if len(tokens) > 0 {
		_ = s.writeFileStore()
	}
}
