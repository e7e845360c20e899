// Package crypto signs and verifies detached RS256 JWS envelopes.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

// JWS is a flattened JSON web signature. Payload is empty in the detached
// form; the signed bytes travel separately.
type JWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload,omitempty"`
	Signature string `json:"signature"`
}

var (
	ErrBadSignature = errors.New("jws signature does not match")
	errNoPEM        = errors.New("no pem block")
)

type joseHeader struct {
	Alg string `json:"alg"`
	B64 bool   `json:"b64"`
}

const algRS256 = "RS256"

var b64 = base64.RawURLEncoding

// digest is SHA-256 over the JWS signing input "<protected>.<payload>".
func digest(protected string, payload []byte) []byte {
	sum := sha256.Sum256([]byte(protected + "." + b64.EncodeToString(payload)))
	return sum[:]
}

// SignDetachedJWS signs payload with a PEM encoded RSA private key.
func SignDetachedJWS(payload []byte, privateKeyPEM []byte) (JWS, error) {
	key, err := privateKey(privateKeyPEM)
	if err != nil {
		return JWS{}, err
	}
	hdr, err := json.Marshal(joseHeader{Alg: algRS256, B64: true})
	if err != nil {
		return JWS{}, err
	}
	env := JWS{Protected: b64.EncodeToString(hdr)}
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest(env.Protected, payload))
	if err != nil {
		return JWS{}, fmt.Errorf("sign: %w", err)
	}
	env.Signature = b64.EncodeToString(sig)
	return env, nil
}

// VerifyDetachedJWS checks env over payload. keyPEM holds a public key, a
// certificate or the private key itself. Envelopes not using RS256 are
// rejected.
func VerifyDetachedJWS(payload []byte, env JWS, keyPEM []byte) error {
	key, err := publicKey(keyPEM)
	if err != nil {
		return err
	}
	var hdr joseHeader
	if raw, err := b64.DecodeString(env.Protected); err != nil || json.Unmarshal(raw, &hdr) != nil {
		return fmt.Errorf("%w: unreadable protected header", ErrBadSignature)
	}
	if hdr.Alg != algRS256 {
		return fmt.Errorf("%w: algorithm %q", ErrBadSignature, hdr.Alg)
	}
	sig, err := b64.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest(env.Protected, payload), sig) != nil {
		return ErrBadSignature
	}
	return nil
}

func privateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errNoPEM
	}
	return rsaPrivate(block.Bytes)
}

// rsaPrivate accepts PKCS#1 and PKCS#8 encodings.
func rsaPrivate(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	if key, ok := parsed.(*rsa.PrivateKey); ok {
		return key, nil
	}
	return nil, fmt.Errorf("private key is %T, want RSA", parsed)
}

func publicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errNoPEM
	}
	var parsed any
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		parsed = cert.PublicKey
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		parsed = key
	default:
		key, err := rsaPrivate(block.Bytes)
		if err != nil {
			return nil, err
		}
		parsed = &key.PublicKey
	}
	if key, ok := parsed.(*rsa.PublicKey); ok {
		return key, nil
	}
	return nil, fmt.Errorf("public key is %T, want RSA", parsed)
}
