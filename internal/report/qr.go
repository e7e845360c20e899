package report

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// qrText is "XXH64:<digest>:<size>" with the digest reduced to upper-case
// hex digits.
func qrText(rep ScanReport) (string, error) {
	digest := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			return r
		case r >= 'a' && r <= 'f':
			return r - 'a' + 'A'
		}
		return -1
	}, rep.Digest)
	if digest == "" {
		return "", fmt.Errorf("report for %s has no file digest", rep.File)
	}
	return fmt.Sprintf("XXH64:%s:%d", digest, rep.Size), nil
}

// DigestToQR encodes the report's file identification as a PNG QR code so
// a printed report can be matched against a copy of the recording.
func DigestToQR(rep ScanReport, size int) ([]byte, error) {
	text, err := qrText(rep)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = qrSize
	}
	return qrcode.Encode(text, qrcode.Medium, size)
}
