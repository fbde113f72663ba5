package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	symKeyVersion = "SYM-SEC-1"
	symKeySuffix  = ".sym.key"
	nonceSize     = 24
	// revisionLayout is the timestamp form used for key revisions.
	revisionLayout = "20060102150405"
)

var (
	// ErrKeyNotFound is returned when no key matching the requested name exists in the cache.
	ErrKeyNotFound = errors.New("crypto: key not found")
	// ErrDecrypt is returned when a sealed payload fails authentication.
	ErrDecrypt = errors.New("crypto: decryption failed")
)

// SymKey is a shared ring key used to seal gossip traffic.
type SymKey struct {
	Name     string
	Revision string
	key      [32]byte
}

// NameWithRev returns "<name>-<revision>".
func (k *SymKey) NameWithRev() string { return k.Name + "-" + k.Revision }

// GenerateSymKey creates a new ring key and writes it into cacheDir.
func GenerateSymKey(ring, cacheDir string) (*SymKey, error) {
	k := &SymKey{Name: ring, Revision: time.Now().UTC().Format(revisionLayout)}
	if _, err := rand.Read(k.key[:]); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, err
	}
	content := fmt.Sprintf("%s\n%s\n\n%s", symKeyVersion, k.NameWithRev(), base64.StdEncoding.EncodeToString(k.key[:]))
	path := filepath.Join(cacheDir, k.NameWithRev()+symKeySuffix)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, err
	}
	return k, nil
}

// GetLatestSymKey loads the newest revision of ring from cacheDir.
func GetLatestSymKey(ring, cacheDir string) (*SymKey, error) {
	matches, err := filepath.Glob(filepath.Join(cacheDir, ring+"-*"+symKeySuffix))
	if err != nil {
		return nil, err
	}
	var revs []string
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), symKeySuffix)
		rev := strings.TrimPrefix(base, ring+"-")
		// a ring named "foo" must not pick up keys of ring "foo-bar"
		if strings.Contains(rev, "-") {
			continue
		}
		revs = append(revs, rev)
	}
	if len(revs) == 0 {
		return nil, fmt.Errorf("%w: ring %q in %s", ErrKeyNotFound, ring, cacheDir)
	}
	sort.Strings(revs)
	return readSymKey(filepath.Join(cacheDir, ring+"-"+revs[len(revs)-1]+symKeySuffix))
}

func readSymKey(path string) (*SymKey, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	version, nameRev, body, err := parseKeyFile(string(b))
	if err != nil {
		return nil, fmt.Errorf("crypto: %s: %w", path, err)
	}
	if version != symKeyVersion {
		return nil, fmt.Errorf("crypto: %s: unsupported key version %q", path, version)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("crypto: %s: %w", path, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: %s: ring key must be 32 bytes, got %d", path, len(raw))
	}
	i := strings.LastIndexByte(nameRev, '-')
	if i <= 0 {
		return nil, fmt.Errorf("crypto: %s: malformed key name %q", path, nameRev)
	}
	k := &SymKey{Name: nameRev[:i], Revision: nameRev[i+1:]}
	copy(k.key[:], raw)
	return k, nil
}

// Encrypt seals plain with a random nonce; the nonce is prepended to the result.
func (k *SymKey) Encrypt(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &k.key), nil
}

// Decrypt opens a payload produced by Encrypt.
func (k *SymKey) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &k.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// parseKeyFile splits "<version>\n<name-rev>\n\n<body>".
func parseKeyFile(s string) (version, nameRev, body string, err error) {
	header, body, ok := strings.Cut(s, "\n\n")
	if !ok {
		return "", "", "", errors.New("missing key header separator")
	}
	version, nameRev, ok = strings.Cut(header, "\n")
	if !ok {
		return "", "", "", errors.New("missing key name")
	}
	return strings.TrimSpace(version), strings.TrimSpace(nameRev), strings.TrimSpace(body), nil
}
