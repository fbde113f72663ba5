package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	sigPubVersion = "SIG-PUB-1"
	sigSecVersion = "SIG-SEC-1"
	pubSuffix     = ".pub"
	secSuffix     = ".sig.key"
)

// SigPair is an origin signing key. Secret is nil when only the public half is loaded.
type SigPair struct {
	Name     string
	Revision string
	Public   ed25519.PublicKey
	Secret   ed25519.PrivateKey
}

// NameWithRev returns "<name>-<revision>".
func (p *SigPair) NameWithRev() string { return p.Name + "-" + p.Revision }

// GenerateSigPair creates a signing pair for origin and writes both halves into cacheDir.
func GenerateSigPair(origin, cacheDir string) (*SigPair, error) {
	pub, sec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	p := &SigPair{Name: origin, Revision: time.Now().UTC().Format(revisionLayout), Public: pub, Secret: sec}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, err
	}
	write := func(version, suffix string, raw []byte, mode os.FileMode) error {
		content := fmt.Sprintf("%s\n%s\n\n%s", version, p.NameWithRev(), base64.StdEncoding.EncodeToString(raw))
		return os.WriteFile(filepath.Join(cacheDir, p.NameWithRev()+suffix), []byte(content), mode)
	}
	if err := write(sigPubVersion, pubSuffix, pub, 0o644); err != nil {
		return nil, err
	}
	if err := write(sigSecVersion, secSuffix, sec, 0o600); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadSigPublic loads the public key named "<name>-<revision>" from cacheDir.
func LoadSigPublic(nameWithRev, cacheDir string) (*SigPair, error) {
	path := filepath.Join(cacheDir, nameWithRev+pubSuffix)
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s in %s", ErrKeyNotFound, nameWithRev, cacheDir)
		}
		return nil, err
	}
	version, nr, body, err := parseKeyFile(string(b))
	if err != nil {
		return nil, fmt.Errorf("crypto: %s: %w", path, err)
	}
	if version != sigPubVersion || nr != nameWithRev {
		return nil, fmt.Errorf("crypto: %s: unexpected key header %q/%q", path, version, nr)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("crypto: %s: %w", path, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: %s: bad public key size %d", path, len(raw))
	}
	name, rev := splitNameRev(nameWithRev)
	return &SigPair{Name: name, Revision: rev, Public: ed25519.PublicKey(raw)}, nil
}

// Sign signs msg with the secret half.
func (p *SigPair) Sign(msg []byte) ([]byte, error) {
	if p.Secret == nil {
		return nil, fmt.Errorf("crypto: %s has no secret key loaded", p.NameWithRev())
	}
	return ed25519.Sign(p.Secret, msg), nil
}

// Verify reports whether sig is a valid signature of msg.
func (p *SigPair) Verify(msg, sig []byte) bool {
	return ed25519.Verify(p.Public, msg, sig)
}

func splitNameRev(s string) (string, string) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '-' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}
