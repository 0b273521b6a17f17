package webhook

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
)

// signatureFields are stripped before computing the keyed-hash signature:
// providers that sign a body subset exclude their own signature field.
var signatureFields = []string{"sign", "signature", "sig"}

// Verifier checks inbound webhook authenticity. Two schemes are supported:
// an RSA signature over the raw body verified against the provider public
// key, and a keyed HMAC computed over a canonicalized copy of the body with
// signature fields stripped.
type Verifier struct {
	hmacSecret []byte
	publicKey  *rsa.PublicKey
}

// NewVerifier builds a verifier from a shared HMAC secret and/or a
// PEM-encoded RSA public key. Either may be empty.
func NewVerifier(hmacSecret, publicKeyPEM string) (*Verifier, error) {
	v := &Verifier{}
	if hmacSecret != "" {
		v.hmacSecret = []byte(hmacSecret)
	}
	if publicKeyPEM != "" {
		block, _ := pem.Decode([]byte(publicKeyPEM))
		if block == nil {
			return nil, fmt.Errorf("decode provider public key: no PEM block")
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse provider public key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("provider public key is not RSA")
		}
		v.publicKey = rsaKey
	}
	return v, nil
}

// Verify reports whether the signature header authenticates the body under
// any configured scheme.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	if v.publicKey != nil && v.verifyRSA(body, signature) {
		return true
	}
	if len(v.hmacSecret) > 0 && v.verifyHMAC(body, signature) {
		return true
	}
	return false
}

func (v *Verifier) verifyRSA(body []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(body)
	return rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, digest[:], sig) == nil
}

func (v *Verifier) verifyHMAC(body []byte, signature string) bool {
	canonical, err := canonicalize(body)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, v.hmacSecret)
	mac.Write(canonical)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}

// canonicalize re-serializes the body with signature fields stripped.
// json.Marshal sorts map keys, which gives a stable byte form.
func canonicalize(body []byte) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	for _, f := range signatureFields {
		delete(m, f)
	}
	return json.Marshal(m)
}

// SignHMAC produces the hex HMAC-SHA512 a provider would attach to the given
// body under the shared secret. Used by tests and the local simulator.
func SignHMAC(secret string, body []byte) (string, error) {
	canonical, err := canonicalize(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
