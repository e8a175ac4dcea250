package internal

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/sensiblebit/pfxkit"
)

// testCA holds a CA certificate and its private key for signing.
type testCA struct {
	cert *x509.Certificate
	key  crypto.Signer
}

// testLeaf holds a leaf certificate signed by a CA, plus its private key.
type testLeaf struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

func randomSerial(t *testing.T) *big.Int {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		t.Fatal(err)
	}
	return serial.Add(serial, big.NewInt(1))
}

func createCert(t *testing.T, tmpl, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) *x509.Certificate {
	t.Helper()
	if parent == nil {
		parent = tmpl
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("create cert %q: %v", tmpl.Subject.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse cert %q: %v", tmpl.Subject.CommonName, err)
	}
	return cert
}

// newECDSACA generates a CA signed by parent, or a self-signed root when
// parent is nil.
func newECDSACA(t *testing.T, cn string, parent *testCA) testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ECDSA CA key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          randomSerial(t),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"TestOrg"}},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	if parent == nil {
		return testCA{cert: createCert(t, tmpl, nil, &key.PublicKey, key), key: key}
	}
	return testCA{cert: createCert(t, tmpl, parent.cert, &key.PublicKey, parent.key), key: key}
}

// newRSALeaf issues an RSA server certificate for cn valid until notAfter.
func newRSALeaf(t *testing.T, ca testCA, cn string, notAfter time.Time) testLeaf {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA leaf key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: randomSerial(t),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	return testLeaf{cert: createCert(t, tmpl, ca.cert, &key.PublicKey, ca.key), key: key}
}

// testChain is a root, an intermediate and a leaf valid for a year.
type testChain struct {
	root         testCA
	intermediate testCA
	leaf         testLeaf
}

func newTestChain(t *testing.T, cn string) testChain {
	t.Helper()
	root := newECDSACA(t, "Test Root CA", nil)
	intermediate := newECDSACA(t, "Test Intermediate CA", &root)
	return testChain{
		root:         root,
		intermediate: intermediate,
		leaf:         newRSALeaf(t, intermediate, cn, time.Now().Add(365*24*time.Hour)),
	}
}

func (c testChain) cas() []*x509.Certificate {
	return []*x509.Certificate{c.intermediate.cert, c.root.cert}
}

func (c testChain) pfx(t *testing.T, password string) []byte {
	t.Helper()
	data, err := gopkcs12.Modern.Encode(c.leaf.key, c.leaf.cert, c.cas(), password)
	if err != nil {
		t.Fatalf("encode PFX: %v", err)
	}
	return data
}

func (c testChain) material(t *testing.T) *pfxkit.ParsedMaterial {
	t.Helper()
	m, err := pfxkit.Parse(c.pfx(t, "pw"), "pw")
	if err != nil {
		t.Fatalf("parse PFX: %v", err)
	}
	return m
}

func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
