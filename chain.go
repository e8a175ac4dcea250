package pfxkit

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/breml/rootcerts/embedded"
)

// Trust store names accepted by VerifyChainInput.TrustStore.
const (
	TrustStoreMozilla = "mozilla"
	TrustStoreSystem  = "system"
	TrustStoreCustom  = "custom"
)

// VerifyChainInput holds the parameters for VerifyChain.
type VerifyChainInput struct {
	Leaf *x509.Certificate
	// Intermediates are candidate issuers, usually the container's CA list.
	// Self-signed entries are not trusted unless they are also roots.
	Intermediates []*x509.Certificate
	// TrustStore is "mozilla" (default), "system" or "custom".
	TrustStore string
	// CustomRoots is the root pool when TrustStore is "custom".
	CustomRoots []*x509.Certificate
	// At is the verification time; zero means now.
	At time.Time
}

// ChainResult holds the shortest verified chain, leaf first.
type ChainResult struct {
	Chain    []*x509.Certificate
	Warnings []string
}

// VerifyChain builds and verifies a chain from the leaf to a root in the
// selected trust store.
func VerifyChain(input VerifyChainInput) (*ChainResult, error) {
	if input.Leaf == nil {
		return nil, errors.New("leaf certificate cannot be nil")
	}
	roots, err := rootPool(input.TrustStore, input.CustomRoots)
	if err != nil {
		return nil, err
	}
	intermediates := x509.NewCertPool()
	for _, c := range input.Intermediates {
		intermediates.AddCert(c)
	}

	chains, err := input.Leaf.Verify(x509.VerifyOptions{
		Intermediates: intermediates,
		Roots:         roots,
		CurrentTime:   input.At,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("chain verification failed: %w", err)
	}

	best := chains[0]
	for _, chain := range chains[1:] {
		if len(chain) < len(best) {
			best = chain
		}
	}
	return &ChainResult{Chain: best, Warnings: checkSHA1Signatures(best)}, nil
}

func rootPool(store string, custom []*x509.Certificate) (*x509.CertPool, error) {
	switch store {
	case "", TrustStoreMozilla:
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(embedded.MozillaCACertificatesPEM())) {
			return nil, errors.New("parsing embedded Mozilla root certificates")
		}
		return pool, nil
	case TrustStoreSystem:
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("loading system cert pool: %w", err)
		}
		return pool, nil
	case TrustStoreCustom:
		if len(custom) == 0 {
			return nil, errors.New("custom trust store requires at least one root certificate")
		}
		pool := x509.NewCertPool()
		for _, c := range custom {
			pool.AddCert(c)
		}
		return pool, nil
	default:
		return nil, fmt.Errorf("unknown trust store %q", store)
	}
}

// checkSHA1Signatures returns a warning for each certificate in the chain
// signed with SHA-1. crypto/x509 refuses SHA-1 below the root, so in a
// verified chain only a root can trigger it.
func checkSHA1Signatures(chain []*x509.Certificate) []string {
	var warnings []string
	for _, cert := range chain {
		switch cert.SignatureAlgorithm {
		case x509.SHA1WithRSA, x509.ECDSAWithSHA1, x509.DSAWithSHA1:
			warnings = append(warnings, fmt.Sprintf("certificate %q uses deprecated SHA-1 signature algorithm (%s)",
				cert.Subject.CommonName, cert.SignatureAlgorithm))
		}
	}
	return warnings
}
