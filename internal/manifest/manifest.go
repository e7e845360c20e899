// Package manifest lists the files of a recording session with their
// digests, optionally signed.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/crypto"
)

const HashAlgo = "xxh64"

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time  `json:"createdAt"`
	HashAlgo  string     `json:"hashAlgo"`
	Items     []Item     `json:"items"`
	Signature *Signature `json:"signature,omitempty"`
}

// Signature points at the detached JWS that signs the manifest.
type Signature struct {
	Type          string `json:"type"`
	SignatureFile string `json:"signatureFile"`
}

// Build hashes every path. Item paths are stored relative to base when they
// lie below it.
func Build(base string, paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), HashAlgo: HashAlgo}
	for _, p := range paths {
		sum, size, err := common.HashFile(p)
		if err != nil {
			return m, err
		}
		rel := p
		if r, err := filepath.Rel(base, p); err == nil && !strings.HasPrefix(r, "..") {
			rel = filepath.ToSlash(r)
		}
		m.Items = append(m.Items, Item{Path: rel, Size: size, Digest: fmt.Sprintf("%016x", sum), Type: fileType(p)})
	}
	return m, nil
}

func fileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ch10", ".c10", ".tf10":
		return "ch10"
	case ".tmats", ".tmt":
		return "tmats"
	case ".json", ".jsonl":
		return "json"
	case ".pdf":
		return "pdf"
	}
	return "other"
}

// Save writes m as JSON to out. When keyPEM is set the written bytes are
// signed and the JWS is stored next to out with a ".jws" suffix.
func Save(m Manifest, out string, keyPEM []byte) error {
	var sig crypto.JWS
	var sigPath string
	if len(keyPEM) > 0 {
		sigPath = out + ".jws"
		m.Signature = &Signature{Type: "jws-rs256-detached", SignatureFile: filepath.Base(sigPath)}
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if len(keyPEM) > 0 {
		if sig, err = crypto.SignDetachedJWS(b, keyPEM); err != nil {
			return fmt.Errorf("sign manifest: %w", err)
		}
		sb, err := json.MarshalIndent(sig, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(sigPath, sb, 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(out, b, 0o644)
}

// Load reads a manifest. When keyPEM is set its detached signature is
// verified first.
func Load(path string, keyPEM []byte) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(keyPEM) == 0 {
		return m, nil
	}
	if m.Signature == nil {
		return m, fmt.Errorf("%s is not signed", path)
	}
	sb, err := os.ReadFile(filepath.Join(filepath.Dir(path), m.Signature.SignatureFile))
	if err != nil {
		return m, err
	}
	var sig crypto.JWS
	if err := json.Unmarshal(sb, &sig); err != nil {
		return m, fmt.Errorf("parse signature: %w", err)
	}
	if err := crypto.VerifyDetachedJWS(b, sig, keyPEM); err != nil {
		return m, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Check recomputes the digest of every item below base and returns the
// paths that no longer match.
func Check(m Manifest, base string) ([]string, error) {
	var bad []string
	for _, it := range m.Items {
		p := it.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, filepath.FromSlash(p))
		}
		sum, size, err := common.HashFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				bad = append(bad, it.Path)
				continue
			}
			return bad, err
		}
		if size != it.Size || fmt.Sprintf("%016x", sum) != it.Digest {
			bad = append(bad, it.Path)
		}
	}
	return bad, nil
}
