package pfxkit

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
)

// KeyMatchesCertificate reports whether key is an RSA private key whose
// modulus and public exponent equal those of the RSA public key in cert.
// It is total: a nil key or certificate, or any non-RSA key on either side,
// yields false.
func KeyMatchesCertificate(key crypto.PrivateKey, cert *x509.Certificate) bool {
	priv, ok := key.(*rsa.PrivateKey)
	if !ok || priv == nil || priv.N == nil || cert == nil {
		return false
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || pub == nil || pub.N == nil {
		return false
	}
	return priv.N.Cmp(pub.N) == 0 && priv.E == pub.E
}

// selectLeaf returns the index of the first certificate matching key. When
// nothing matches it applies policy and reports matched=false.
func selectLeaf(key crypto.PrivateKey, certs []*x509.Certificate, policy LeafPolicy) (idx int, matched bool, err error) {
	for i, c := range certs {
		if KeyMatchesCertificate(key, c) {
			return i, true, nil
		}
	}
	switch policy {
	case RequireKeyMatch:
		return -1, false, ErrLeafNotMatched
	default:
		return 0, false, nil
	}
}
