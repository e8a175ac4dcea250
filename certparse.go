package pfxkit

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"log/slog"

	ctx509 "github.com/google/certificate-transparency-go/x509"
)

// ParseCertificateLenient parses a DER certificate with crypto/x509 and, if
// that fails, with the certificate-transparency-go parser, which tolerates
// encodings real exporters still produce (negative serial numbers, bad
// string types, malformed extensions). Non-fatal errors from the fallback are
// accepted; the result is rebuilt as a crypto/x509 certificate carrying the
// raw DER, names, validity, serial, public key and basic constraints.
func ParseCertificateLenient(der []byte) (*x509.Certificate, error) {
	cert, stdErr := x509.ParseCertificate(der)
	if stdErr == nil {
		return cert, nil
	}

	ct, err := ctx509.ParseCertificate(der)
	if ct == nil || ctx509.IsFatal(err) {
		return nil, fmt.Errorf("parsing certificate: %w", stdErr)
	}
	if ct.PublicKey == nil {
		return nil, fmt.Errorf("parsing certificate: unsupported public key: %w", stdErr)
	}
	slog.Debug("certificate accepted by lenient parser", "strict_error", stdErr, "non_fatal", err)

	out := &x509.Certificate{
		Raw:                     ct.Raw,
		RawTBSCertificate:       ct.RawTBSCertificate,
		RawSubjectPublicKeyInfo: ct.RawSubjectPublicKeyInfo,
		RawSubject:              ct.RawSubject,
		RawIssuer:               ct.RawIssuer,
		Signature:               ct.Signature,
		Version:                 ct.Version,
		SerialNumber:            ct.SerialNumber,
		NotBefore:               ct.NotBefore,
		NotAfter:                ct.NotAfter,
		PublicKey:               ct.PublicKey,
		PublicKeyAlgorithm:      publicKeyAlgorithm(ct.PublicKey),
		IsCA:                    ct.IsCA,
		BasicConstraintsValid:   ct.BasicConstraintsValid,
		SubjectKeyId:            ct.SubjectKeyId,
		AuthorityKeyId:          ct.AuthorityKeyId,
		DNSNames:                ct.DNSNames,
		EmailAddresses:          ct.EmailAddresses,
	}
	out.Subject = parseName(ct.RawSubject)
	out.Issuer = parseName(ct.RawIssuer)
	return out, nil
}

func parseName(raw []byte) pkix.Name {
	var name pkix.Name
	var rdns pkix.RDNSequence
	if rest, err := asn1.Unmarshal(raw, &rdns); err == nil && len(rest) == 0 {
		name.FillFromRDNSequence(&rdns)
	}
	return name
}

func publicKeyAlgorithm(pub any) x509.PublicKeyAlgorithm {
	switch PublicKeyAlgorithmName(pub) {
	case "RSA":
		return x509.RSA
	case "ECDSA":
		return x509.ECDSA
	case "Ed25519":
		return x509.Ed25519
	default:
		return x509.UnknownPublicKeyAlgorithm
	}
}
