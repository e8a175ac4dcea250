package pfxkit

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sensiblebit/pfxkit/internal/pkcs12"
)

var (
	// ErrInvalidContainer is returned when the input is not a decodable
	// PKCS#12 container: malformed DER, bad base64, unsupported algorithms,
	// or a wrong password.
	ErrInvalidContainer = errors.New("invalid PKCS#12 container")
	// ErrIncorrectPassword is the wrong-password case of ErrInvalidContainer;
	// errors.Is matches both.
	ErrIncorrectPassword = fmt.Errorf("%w: incorrect password", ErrInvalidContainer)
	// ErrPrivateKeyNotFound is returned when the container has no key bag,
	// or the selected key bag does not hold a parseable PKCS#8 key.
	ErrPrivateKeyNotFound = errors.New("private key not found in PKCS#12 container")
	// ErrCertificateNotFound is returned when no certificate bag decodes.
	ErrCertificateNotFound = errors.New("certificate not found in PKCS#12 container")
	// ErrLeafNotMatched is returned under RequireKeyMatch when no
	// certificate carries the private key's public key.
	ErrLeafNotMatched = errors.New("no certificate matches the private key")
)

// LeafPolicy decides which certificate becomes the leaf when none matches
// the private key.
type LeafPolicy int

const (
	// FallbackToFirstCertificate selects the first certificate in container
	// order. It is the zero value.
	FallbackToFirstCertificate LeafPolicy = iota
	// RequireKeyMatch fails with ErrLeafNotMatched.
	RequireKeyMatch
)

// String returns the policy name used in logs and reports.
func (p LeafPolicy) String() string {
	switch p {
	case FallbackToFirstCertificate:
		return "fallback-to-first-certificate"
	case RequireKeyMatch:
		return "require-key-match"
	default:
		return fmt.Sprintf("LeafPolicy(%d)", int(p))
	}
}

// ParsedMaterial is the material extracted from one container.
type ParsedMaterial struct {
	// PrivateKeyPEM is the selected key as a PKCS#8 PRIVATE KEY block.
	PrivateKeyPEM string `json:"private_key_pem"`
	// CertificatePEM is the selected leaf certificate.
	CertificatePEM string `json:"certificate_pem"`
	// CACertificatesPEM holds every other certificate in container order.
	// It is empty, not nil, when the container has only the leaf.
	CACertificatesPEM []string `json:"ca_certificates_pem"`
	// FriendlyName is the key bag's friendlyName attribute, nil when absent.
	FriendlyName *string `json:"friendly_name,omitempty"`
	// LeafMatched is false when the leaf was chosen by the fallback policy.
	LeafMatched bool `json:"leaf_matched"`

	PrivateKey     crypto.PrivateKey   `json:"-"`
	Leaf           *x509.Certificate   `json:"-"`
	CACertificates []*x509.Certificate `json:"-"`
}

// Extractor extracts material with a configurable leaf policy. The zero
// value uses FallbackToFirstCertificate and is safe for concurrent use.
type Extractor struct {
	Policy LeafPolicy
}

// Parse extracts material from DER-encoded PKCS#12 data with the default
// extractor.
func Parse(pfxData []byte, password string) (*ParsedMaterial, error) {
	return Extractor{}.Parse(pfxData, password)
}

// ParseBase64 decodes standard base64 and extracts material with the
// default extractor.
func ParseBase64(b64, password string) (*ParsedMaterial, error) {
	return Extractor{}.ParseBase64(b64, password)
}

// ParseBase64 decodes standard base64, ignoring whitespace and line breaks,
// and delegates to Parse.
func (e Extractor) ParseBase64(b64, password string) (*ParsedMaterial, error) {
	data, err := DecodeBase64(b64)
	if err != nil {
		return nil, err
	}
	return e.Parse(data, password)
}

// DecodeBase64 decodes standard base64 after removing all whitespace.
// Failures wrap ErrInvalidContainer.
func DecodeBase64(b64 string) ([]byte, error) {
	compact := strings.Join(strings.Fields(b64), "")
	data, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding base64: %w", ErrInvalidContainer, err)
	}
	return data, nil
}

// Parse extracts material from DER-encoded PKCS#12 data.
//
// The first shrouded key bag wins over the first plain key bag. The leaf is
// the first certificate whose RSA public key equals the key's; when none
// does, e.Policy decides. All other certificates are returned as the CA
// chain in container order.
func (e Extractor) Parse(pfxData []byte, password string) (*ParsedMaterial, error) {
	contents, err := pkcs12.Decode(pfxData, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("decoding PKCS#12: %w", ErrIncorrectPassword)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidContainer, err)
	}

	keyDER, keyAttrs, err := selectKeyBag(contents.Bags)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing PKCS#8 key: %w", ErrPrivateKeyNotFound, err)
	}

	certs := collectCertificates(contents.Bags)
	if len(certs) == 0 {
		return nil, ErrCertificateNotFound
	}

	leafIdx, matched, err := selectLeaf(key, certs, e.Policy)
	if err != nil {
		return nil, err
	}
	if !matched {
		slog.Debug("no certificate matches the private key, using first certificate",
			"policy", e.Policy.String(), "certificates", len(certs))
	}

	cas := make([]*x509.Certificate, 0, len(certs)-1)
	for i, c := range certs {
		if i != leafIdx {
			cas = append(cas, c)
		}
	}

	m := &ParsedMaterial{
		PrivateKeyPEM:     pkcs8ToPEM(keyDER),
		CertificatePEM:    CertToPEM(certs[leafIdx]),
		CACertificatesPEM: CertsToPEM(cas),
		LeafMatched:       matched,
		PrivateKey:        key,
		Leaf:              certs[leafIdx],
		CACertificates:    cas,
	}
	if name, ok := keyAttrs.FriendlyName(); ok {
		m.FriendlyName = &name
	}
	return m, nil
}

// selectKeyBag returns the first shrouded key bag, or else the first plain
// key bag.
func selectKeyBag(bags []pkcs12.Bag) ([]byte, pkcs12.Attributes, error) {
	var plain *pkcs12.KeyBag
	for _, b := range bags {
		switch b := b.(type) {
		case *pkcs12.ShroudedKeyBag:
			return b.PKCS8, b.Attributes, nil
		case *pkcs12.KeyBag:
			if plain == nil {
				plain = b
			}
		}
	}
	if plain == nil {
		return nil, nil, ErrPrivateKeyNotFound
	}
	return plain.PKCS8, plain.Attributes, nil
}

// collectCertificates parses every X.509 cert bag in order, skipping bags
// that do not decode.
func collectCertificates(bags []pkcs12.Bag) []*x509.Certificate {
	var certs []*x509.Certificate
	for i, b := range bags {
		cb, ok := b.(*pkcs12.CertBag)
		if !ok {
			continue
		}
		if !cb.IsX509() {
			slog.Debug("skipping non-X.509 cert bag", "index", i, "cert_type", cb.CertType.String())
			continue
		}
		cert, err := ParseCertificateLenient(cb.Raw)
		if err != nil {
			slog.Debug("skipping undecodable cert bag", "index", i, "error", err)
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}

// ParseWithPasswords tries each password in order and returns the material
// and the password that opened the container. Only ErrIncorrectPassword
// moves on to the next password; any other error is returned immediately.
// A nil or empty list tries the empty password.
func (e Extractor) ParseWithPasswords(pfxData []byte, passwords []string) (*ParsedMaterial, string, error) {
	if len(passwords) == 0 {
		passwords = []string{""}
	}
	var lastErr error
	for _, pw := range passwords {
		m, err := e.Parse(pfxData, pw)
		if err == nil {
			return m, pw, nil
		}
		if !errors.Is(err, ErrIncorrectPassword) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("none of %d passwords worked: %w", len(passwords), lastErr)
}

// ParseWithPasswords is Extractor.ParseWithPasswords with the default policy.
func ParseWithPasswords(pfxData []byte, passwords []string) (*ParsedMaterial, string, error) {
	return Extractor{}.ParseWithPasswords(pfxData, passwords)
}
