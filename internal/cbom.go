package internal

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"

	"github.com/sensiblebit/pfxkit"
)

// Version is reported as the tool version in CBOM metadata.
var Version = "dev"

// cbomBuilder accumulates components and dependencies, deduplicating
// certificates shared between containers.
type cbomBuilder struct {
	components []cdx.Component
	seen       map[cdx.BOMReference]bool
	depOrder   []cdx.BOMReference
	deps       map[cdx.BOMReference][]string
}

// BuildCBOM describes the verified containers as a CycloneDX 1.6
// cryptography BOM: one certificate component per distinct certificate, one
// related-crypto-material component per private key, and dependencies from
// each key to its leaf and from each leaf to its CA certificates. Failed
// containers are skipped. Key material itself is never included.
func BuildCBOM(results []BatchResult) *cdx.BOM {
	b := &cbomBuilder{
		seen: make(map[cdx.BOMReference]bool),
		deps: make(map[cdx.BOMReference][]string),
	}
	for _, r := range results {
		if r.Result == nil || r.Result.Material == nil {
			continue
		}
		m := r.Result.Material
		leafRef := b.addCertificate(m.Leaf, r.Path)
		for _, ca := range m.CACertificates {
			b.addDependency(leafRef, b.addCertificate(ca, r.Path))
		}
		if keyRef, ok := b.addPrivateKey(m.PrivateKey, r.Path); ok {
			b.addDependency(keyRef, leafRef)
		}
	}

	dependencies := make([]cdx.Dependency, 0, len(b.depOrder))
	for _, ref := range b.depOrder {
		on := b.deps[ref]
		dependencies = append(dependencies, cdx.Dependency{Ref: string(ref), Dependencies: &on})
	}

	return &cdx.BOM{
		JSONSchema:   "https://cyclonedx.org/schema/bom-1.6.schema.json",
		BOMFormat:    "CycloneDX",
		SpecVersion:  cdx.SpecVersion1_6,
		SerialNumber: "urn:uuid:" + uuid.New().String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Component: &cdx.Component{
				Type:    cdx.ComponentTypeApplication,
				Name:    "pfxkit",
				Version: Version,
			},
		},
		Components:   &b.components,
		Dependencies: &dependencies,
	}
}

func (b *cbomBuilder) addCertificate(cert *x509.Certificate, path string) cdx.BOMReference {
	sum := sha256.Sum256(cert.Raw)
	ref := cdx.BOMReference("crypto/certificate/" + hex.EncodeToString(sum[:]))
	if b.seen[ref] {
		return ref
	}
	b.seen[ref] = true
	sha1Sum := sha1.Sum(cert.Raw)

	b.components = append(b.components, cdx.Component{
		BOMRef:  string(ref),
		Type:    cdx.ComponentTypeCryptographicAsset,
		Name:    cert.Subject.String(),
		Version: cert.SerialNumber.String(),
		Hashes: &[]cdx.Hash{
			{Algorithm: cdx.HashAlgoSHA256, Value: hex.EncodeToString(sum[:])},
			{Algorithm: cdx.HashAlgoSHA1, Value: hex.EncodeToString(sha1Sum[:])},
		},
		CryptoProperties: &cdx.CryptoProperties{
			AssetType: cdx.CryptoAssetTypeCertificate,
			CertificateProperties: &cdx.CertificateProperties{
				SubjectName:           cert.Subject.String(),
				IssuerName:            cert.Issuer.String(),
				NotValidBefore:        cert.NotBefore.UTC().Format(time.RFC3339),
				NotValidAfter:         cert.NotAfter.UTC().Format(time.RFC3339),
				SignatureAlgorithmRef: signatureAlgorithmRef(cert.SignatureAlgorithm),
				SubjectPublicKeyRef:   publicKeyRef(cert.PublicKey),
				CertificateFormat:     "X.509",
				CertificateExtension:  "p12",
			},
		},
		Properties: &[]cdx.Property{
			{Name: "pfxkit:location", Value: path},
			{Name: "pfxkit:role", Value: pfxkit.CertificateRole(cert)},
		},
	})
	return ref
}

func (b *cbomBuilder) addPrivateKey(key crypto.PrivateKey, path string) (cdx.BOMReference, bool) {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return "", false
	}
	spki, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(spki)
	ref := cdx.BOMReference("crypto/private-key/" + hex.EncodeToString(sum[:]))
	if b.seen[ref] {
		return ref, true
	}
	b.seen[ref] = true

	size := privateKeySize(key)
	algRef := publicKeyRef(signer.Public())
	b.components = append(b.components, cdx.Component{
		BOMRef: string(ref),
		Type:   cdx.ComponentTypeCryptographicAsset,
		Name:   pfxkit.PublicKeyAlgorithmName(signer.Public()) + " Private Key",
		CryptoProperties: &cdx.CryptoProperties{
			AssetType: cdx.CryptoAssetTypeRelatedCryptoMaterial,
			RelatedCryptoMaterialProperties: &cdx.RelatedCryptoMaterialProperties{
				Type:         cdx.RelatedCryptoMaterialTypePrivateKey,
				AlgorithmRef: algRef,
				Size:         &size,
				Format:       "PKCS#8",
			},
		},
		Properties: &[]cdx.Property{
			{Name: "pfxkit:location", Value: path},
		},
	})
	return ref, true
}

func (b *cbomBuilder) addDependency(from, to cdx.BOMReference) {
	if _, ok := b.deps[from]; !ok {
		b.depOrder = append(b.depOrder, from)
	}
	if !slices.Contains(b.deps[from], string(to)) {
		b.deps[from] = append(b.deps[from], string(to))
	}
}

// publicKeyRef names a key by algorithm, size and OID in the crypto/key
// reference form used across CBOM tooling.
func publicKeyRef(pub crypto.PublicKey) cdx.BOMReference {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return cdx.BOMReference(fmt.Sprintf("crypto/key/rsa-%d@1.2.840.113549.1.1.1", k.N.BitLen()))
	case *ecdsa.PublicKey:
		switch k.Params().BitSize {
		case 256:
			return "crypto/key/ecdsa-p256@1.2.840.10045.3.1.7"
		case 384:
			return "crypto/key/ecdsa-p384@1.3.132.0.34"
		case 521:
			return "crypto/key/ecdsa-p521@1.3.132.0.35"
		}
		return "crypto/key/ecdsa-unknown@1.2.840.10045.2.1"
	case ed25519.PublicKey:
		return "crypto/key/ed25519-256@1.3.101.112"
	}
	return "crypto/key/unknown@unknown"
}

var signatureAlgorithmOIDs = map[x509.SignatureAlgorithm]string{
	x509.SHA1WithRSA:      "1.2.840.113549.1.1.5",
	x509.SHA256WithRSA:    "1.2.840.113549.1.1.11",
	x509.SHA384WithRSA:    "1.2.840.113549.1.1.12",
	x509.SHA512WithRSA:    "1.2.840.113549.1.1.13",
	x509.SHA256WithRSAPSS: "1.2.840.113549.1.1.10",
	x509.ECDSAWithSHA1:    "1.2.840.10045.4.1",
	x509.ECDSAWithSHA256:  "1.2.840.10045.4.3.2",
	x509.ECDSAWithSHA384:  "1.2.840.10045.4.3.3",
	x509.ECDSAWithSHA512:  "1.2.840.10045.4.3.4",
	x509.PureEd25519:      "1.3.101.112",
}

func signatureAlgorithmRef(alg x509.SignatureAlgorithm) cdx.BOMReference {
	oid, ok := signatureAlgorithmOIDs[alg]
	if !ok {
		return "crypto/algorithm/unknown@unknown"
	}
	return cdx.BOMReference("crypto/algorithm/" + strings.ToLower(alg.String()) + "@" + oid)
}
