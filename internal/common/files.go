package common

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// FingerprintSize is how many leading bytes of a file take part in its
// fingerprint.
const FingerprintSize = 1 << 20

// Fingerprint identifies a recording by its size, modification time and an
// xxhash of its first FingerprintSize bytes. It changes whenever a recorder
// appends to the file.
type Fingerprint struct {
	Size    int64
	ModTime int64
	Hash    uint64
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x-%d-%d", f.Hash, f.Size, f.ModTime)
}

func FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return Fingerprint{}, err
	}
	h := xxhash.New()
	if _, err := io.Copy(h, io.LimitReader(f, FingerprintSize)); err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Size: stat.Size(), ModTime: stat.ModTime().UnixNano(), Hash: h.Sum64()}, nil
}

// HashFile returns the xxhash of a whole file and its size.
func HashFile(path string) (uint64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	return h.Sum64(), n, nil
}
