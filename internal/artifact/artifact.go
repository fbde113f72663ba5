// Package artifact reads and writes signed package archives.
//
// An archive is a plain-text header followed by a zstd-compressed tar:
//
//	FSA-1
//	<signing key name-revision>
//	BLAKE3
//	<base64 ed25519 signature of the hex BLAKE3 digest of the payload>
//	<empty line>
//	<payload>
package artifact

import (
	"archive/tar"
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/loykin/fleetsup/internal/crypto"
	"github.com/loykin/fleetsup/internal/pkgs"
)

const (
	formatVersion = "FSA-1"
	hashType      = "BLAKE3"
	maxHeaderLine = 4096
)

var (
	// ErrVerify is returned when an archive's signature does not check out.
	ErrVerify = errors.New("artifact: verification failed")
	// ErrFormat is returned for malformed archives.
	ErrFormat = errors.New("artifact: malformed archive")
)

// Archive is an archive file on disk. Ident is filled in by whoever fetched it.
type Archive struct {
	Path  string
	Ident pkgs.Ident
}

type header struct {
	keyName   string
	signature []byte
}

// open returns the parsed header and a reader positioned at the payload.
func (a *Archive) open() (header, io.Reader, io.Closer, error) {
	f, err := os.Open(filepath.Clean(a.Path))
	if err != nil {
		return header{}, nil, nil, err
	}
	br := bufio.NewReader(f)
	var lines [5]string
	for i := range lines {
		line, err := br.ReadString('\n')
		if err != nil || len(line) > maxHeaderLine {
			_ = f.Close()
			return header{}, nil, nil, fmt.Errorf("%w: %s: truncated header", ErrFormat, a.Path)
		}
		lines[i] = strings.TrimRight(line, "\r\n")
	}
	if lines[0] != formatVersion || lines[2] != hashType || lines[4] != "" {
		_ = f.Close()
		return header{}, nil, nil, fmt.Errorf("%w: %s: unsupported header %q/%q", ErrFormat, a.Path, lines[0], lines[2])
	}
	sig, err := base64.StdEncoding.DecodeString(lines[3])
	if err != nil {
		_ = f.Close()
		return header{}, nil, nil, fmt.Errorf("%w: %s: signature: %v", ErrFormat, a.Path, err)
	}
	return header{keyName: lines[1], signature: sig}, br, f, nil
}

// SigningKey returns the name-revision of the key the archive was signed with.
func (a *Archive) SigningKey() (string, error) {
	h, _, c, err := a.open()
	if err != nil {
		return "", err
	}
	_ = c.Close()
	return h.keyName, nil
}

// Verify checks the payload signature against the public key found in keyCache.
func (a *Archive) Verify(keyCache string) error {
	h, payload, c, err := a.open()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	pair, err := crypto.LoadSigPublic(h.keyName, keyCache)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrVerify, a.Path, err)
	}
	hasher := blake3.New()
	if _, err := io.Copy(hasher, payload); err != nil {
		return err
	}
	digest := hex.EncodeToString(hasher.Sum(nil))
	if !pair.Verify([]byte(digest), h.signature) {
		return fmt.Errorf("%w: %s: signature mismatch for key %s", ErrVerify, a.Path, h.keyName)
	}
	return nil
}

// Unpack extracts the payload under fsRoot. Entries escaping fsRoot are rejected.
func (a *Archive) Unpack(fsRoot string) error {
	_, payload, c, err := a.open()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	dec, err := zstd.NewReader(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFormat, a.Path, err)
	}
	defer dec.Close()

	root, err := filepath.Abs(fsRoot)
	if err != nil {
		return err
	}
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFormat, a.Path, err)
		}
		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s: entry %q escapes root", ErrFormat, a.Path, hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// File is one entry written by Create.
type File struct {
	Body []byte
	Mode os.FileMode
}

// Create writes a signed archive at path containing files, keyed by their
// slash-separated path relative to the unpack root.
func Create(path string, signer *crypto.SigPair, files map[string]File) error {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		f := files[n]
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		if err := tw.WriteHeader(&tar.Header{Name: n, Mode: int64(mode), Size: int64(len(f.Body)), Typeflag: tar.TypeReg}); err != nil {
			return err
		}
		if _, err := tw.Write(f.Body); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}

	var payload bytes.Buffer
	enc, err := zstd.NewWriter(&payload, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := enc.Write(tarBuf.Bytes()); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	sum := blake3.Sum256(payload.Bytes())
	sig, err := signer.Sign([]byte(hex.EncodeToString(sum[:])))
	if err != nil {
		return err
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "%s\n%s\n%s\n%s\n\n", formatVersion, signer.NameWithRev(), hashType, base64.StdEncoding.EncodeToString(sig))
	out.Write(payload.Bytes())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, out.Bytes(), 0o644)
}
