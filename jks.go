package pfxkit

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
)

// DefaultJKSAlias is the entry alias used when the material has no
// friendlyName.
const DefaultJKSAlias = "server"

// JKSAlias returns the alias EncodeJKS uses for m: its friendlyName when set,
// otherwise DefaultJKSAlias.
func JKSAlias(m *ParsedMaterial) string {
	if m != nil && m.FriendlyName != nil && *m.FriendlyName != "" {
		return *m.FriendlyName
	}
	return DefaultJKSAlias
}

// EncodeJKS creates a Java KeyStore with one private key entry holding the
// leaf followed by caCerts. The same password protects the store and the
// entry, as keytool does by default. An empty alias uses DefaultJKSAlias.
// Aliases are stored lower-cased, as in keytool-written stores.
func EncodeJKS(key crypto.PrivateKey, leaf *x509.Certificate, caCerts []*x509.Certificate, password, alias string) ([]byte, error) {
	if leaf == nil {
		return nil, errors.New("leaf certificate cannot be nil")
	}
	if alias == "" {
		alias = DefaultJKSAlias
	}
	pkcs8Key, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key to PKCS#8: %w", err)
	}

	chain := []keystore.Certificate{{Type: "X.509", Content: leaf.Raw}}
	for _, ca := range caCerts {
		chain = append(chain, keystore.Certificate{Type: "X.509", Content: ca.Raw})
	}

	ks := keystore.New()
	if err := ks.SetPrivateKeyEntry(alias, keystore.PrivateKeyEntry{
		CreationTime:     time.Now(),
		PrivateKey:       pkcs8Key,
		CertificateChain: chain,
	}, []byte(password)); err != nil {
		return nil, fmt.Errorf("setting JKS private key entry: %w", err)
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		return nil, fmt.Errorf("storing JKS: %w", err)
	}
	return buf.Bytes(), nil
}

// JKSEntry is one private key entry read back from a keystore.
type JKSEntry struct {
	Alias string
	Key   crypto.PrivateKey
	Chain []*x509.Certificate
}

// DecodeJKS loads a keystore and returns its private key entries in alias
// order. Entries whose key or chain does not parse are skipped.
func DecodeJKS(data []byte, password string) ([]JKSEntry, error) {
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return nil, fmt.Errorf("loading JKS: %w", err)
	}

	var entries []JKSEntry
	for _, alias := range ks.Aliases() {
		if !ks.IsPrivateKeyEntry(alias) {
			continue
		}
		entry, err := ks.GetPrivateKeyEntry(alias, []byte(password))
		if err != nil {
			continue
		}
		key, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
		if err != nil {
			continue
		}
		e := JKSEntry{Alias: alias, Key: key}
		for _, c := range entry.CertificateChain {
			cert, err := x509.ParseCertificate(c.Content)
			if err != nil {
				continue
			}
			e.Chain = append(e.Chain, cert)
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, errors.New("JKS contains no usable private key entries")
	}
	return entries, nil
}
