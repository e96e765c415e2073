// Package signature implements parsing and verification of the Content-Signature
// header attached to inbound invoice-provider webhooks.
package signature

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"regexp"
	"strings"
)

// Header holds the parsed fields of a Content-Signature header value.
type Header struct {
	Alg    string
	Digest string
}

// ErrMalformed reports a Content-Signature value that does not follow the
// alg=<token>; digest=<rest> grammar.
var ErrMalformed = errors.New("malformed signature header")

// Two dialects exist in the wild: the digest may be "the rest of the line" or a
// separate capture after the marker. Both normalise to everything following
// "digest=".
var headerPattern = regexp.MustCompile(`(?i)alg=(\S+);\s*digest=(.*)`)

// ParseHeader extracts the algorithm and digest fields from a raw header value.
func ParseHeader(raw string) (Header, error) {
	m := headerPattern.FindStringSubmatch(raw)
	if m == nil {
		return Header{}, ErrMalformed
	}
	h := Header{Alg: m[1], Digest: strings.TrimSpace(m[2])}
	if h.Alg == "" || h.Digest == "" {
		return Header{}, ErrMalformed
	}
	return h, nil
}

// DecodeDigest decodes the URL-safe base64 digest field into raw signature
// bytes, restoring standard alphabet and padding first.
func DecodeDigest(digest string) ([]byte, error) {
	data := strings.NewReplacer("-", "+", "_", "/").Replace(digest)
	if mod := len(data) % 4; mod != 0 {
		data += strings.Repeat("=", 4-mod)
	}
	sig, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrMalformed
	}
	return sig, nil
}

// Verify reports whether sig is a valid RSA/SHA-256 signature over body under
// the PEM-encoded public key. Verification failure always degrades to false,
// never to an error: a crash here could be mistaken for acceptance.
func Verify(body, sig []byte, publicKeyPEM string) bool {
	if len(body) == 0 || len(sig) == 0 || strings.TrimSpace(publicKeyPEM) == "" {
		return false
	}
	block, _ := pem.Decode([]byte(NormalizePublicKey(publicKeyPEM)))
	if block == nil {
		return false
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return false
	}
	digest := sha256.Sum256(body)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// NormalizePublicKey wraps a bare base64 key body in PEM armor. Keys that
// already carry the armor pass through unchanged. The merchant portal hands out
// the key body without headers, so configuration stores it that way.
func NormalizePublicKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if strings.Contains(trimmed, "BEGIN PUBLIC KEY") {
		return trimmed
	}
	return "-----BEGIN PUBLIC KEY-----\n" + trimmed + "\n-----END PUBLIC KEY-----"
}
