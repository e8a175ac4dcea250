// Package pfxkit extracts certificate material from PKCS#12 (PFX/P12)
// containers: the private key, the leaf certificate that belongs to it, the
// remaining CA chain and the key's friendly name, all as PEM. It also checks
// validity, verifies chains and converts the material to other formats.
package pfxkit

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
)

// CertToPEM encodes a certificate as a CERTIFICATE PEM block.
func CertToPEM(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	}))
}

// CertsToPEM encodes each certificate as its own PEM block, preserving order.
// The result is never nil.
func CertsToPEM(certs []*x509.Certificate) []string {
	out := make([]string, 0, len(certs))
	for _, c := range certs {
		out = append(out, CertToPEM(c))
	}
	return out
}

// PrivateKeyToPEM marshals a private key as a PKCS#8 PRIVATE KEY PEM block.
func PrivateKeyToPEM(key crypto.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshaling private key to PKCS#8: %w", err)
	}
	return pkcs8ToPEM(der), nil
}

func pkcs8ToPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	}))
}

// ColonHex formats a byte slice as colon-separated lowercase hex.
func ColonHex(b []byte) string {
	h := hex.EncodeToString(b)
	parts := make([]string, 0, len(b))
	for i := 0; i < len(h); i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.Join(parts, ":")
}

// CertFingerprintColonSHA256 returns the SHA-256 fingerprint of a certificate
// as uppercase colon-separated hex (AA:BB:...), the form OpenSSL prints.
func CertFingerprintColonSHA256(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return strings.ToUpper(ColonHex(sum[:]))
}

// CertFingerprintColonSHA1 returns the SHA-1 fingerprint of a certificate as
// uppercase colon-separated hex. Windows certificate stores show this value
// as the thumbprint.
func CertFingerprintColonSHA1(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(ColonHex(sum[:]))
}

// CertificateRole reports whether a certificate is a root, an intermediate
// or a leaf.
func CertificateRole(cert *x509.Certificate) string {
	if cert.IsCA {
		if bytes.Equal(cert.RawIssuer, cert.RawSubject) {
			return "root"
		}
		return "intermediate"
	}
	return "leaf"
}

// KeyAlgorithmName returns a human-readable name for a private key's algorithm.
func KeyAlgorithmName(key crypto.PrivateKey) string {
	switch key.(type) {
	case *ecdsa.PrivateKey:
		return "ECDSA"
	case *rsa.PrivateKey:
		return "RSA"
	case ed25519.PrivateKey:
		return "Ed25519"
	default:
		return "unknown"
	}
}

// PublicKeyAlgorithmName returns a human-readable name for a public key's algorithm.
func PublicKeyAlgorithmName(key crypto.PublicKey) string {
	switch key.(type) {
	case *ecdsa.PublicKey:
		return "ECDSA"
	case *rsa.PublicKey:
		return "RSA"
	case ed25519.PublicKey:
		return "Ed25519"
	default:
		return "unknown"
	}
}

// PublicKeySize returns the key size in bits: the modulus length for RSA,
// the curve size for ECDSA, and 256 for Ed25519. Unknown types return 0.
func PublicKeySize(key crypto.PublicKey) int {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	default:
		return 0
	}
}
