package pfxkit

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/smallstep/pkcs7"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/sensiblebit/pfxkit/internal/pkcs12"
)

func validateKeyType(key crypto.PrivateKey) error {
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
		return nil
	default:
		return fmt.Errorf("unsupported private key type %T", key)
	}
}

func validateEncodeInput(key crypto.PrivateKey, leaf *x509.Certificate) error {
	if err := validateKeyType(key); err != nil {
		return err
	}
	if leaf == nil {
		return errors.New("leaf certificate cannot be nil")
	}
	return nil
}

// EncodePKCS12 re-packages key and certificates as a PFX with PBES2
// AES-256-CBC and a SHA-256 MAC.
func EncodePKCS12(key crypto.PrivateKey, leaf *x509.Certificate, caCerts []*x509.Certificate, password string) ([]byte, error) {
	if err := validateEncodeInput(key, leaf); err != nil {
		return nil, err
	}
	return gopkcs12.Modern.Encode(key, leaf, caCerts, password)
}

// EncodePKCS12Legacy re-packages key and certificates with RC2-40 and 3DES
// for consumers that predate PBES2 (Windows Server 2016, Java 8).
func EncodePKCS12Legacy(key crypto.PrivateKey, leaf *x509.Certificate, caCerts []*x509.Certificate, password string) ([]byte, error) {
	if err := validateEncodeInput(key, leaf); err != nil {
		return nil, err
	}
	return gopkcs12.LegacyRC2.Encode(key, leaf, caCerts, password)
}

// EncodePKCS12WithFriendlyName re-packages extracted material and keeps its
// friendlyName on the key and leaf bags, which the go-pkcs12 encoders drop.
func EncodePKCS12WithFriendlyName(m *ParsedMaterial, password string) ([]byte, error) {
	if m == nil {
		return nil, errors.New("material cannot be nil")
	}
	if err := validateEncodeInput(m.PrivateKey, m.Leaf); err != nil {
		return nil, err
	}
	in := pkcs12.ChainInput{
		Key:      m.PrivateKey,
		Leaf:     m.Leaf,
		CACerts:  m.CACertificates,
		Password: password,
	}
	if m.FriendlyName != nil {
		in.FriendlyName = *m.FriendlyName
	}
	data, err := pkcs12.EncodeChain(in)
	if err != nil {
		return nil, fmt.Errorf("encoding PKCS#12: %w", err)
	}
	return data, nil
}

// EncodePKCS7 creates a certs-only PKCS#7 (P7B) bundle.
func EncodePKCS7(certs []*x509.Certificate) ([]byte, error) {
	if len(certs) == 0 {
		return nil, errors.New("no certificates to encode")
	}
	var der []byte
	for _, c := range certs {
		der = append(der, c.Raw...)
	}
	return pkcs7.DegenerateCertificate(der)
}

// DecodePKCS7 returns the certificates in a DER PKCS#7 bundle.
func DecodePKCS7(der []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#7: %w", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, errors.New("PKCS#7 bundle contains no certificates")
	}
	return p7.Certificates, nil
}
