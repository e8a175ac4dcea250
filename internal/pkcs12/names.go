package pkcs12

import "encoding/asn1"

var algorithmNames = map[string]string{
	oidSHA1.String():                          "SHA-1",
	oidSHA224.String():                        "SHA-224",
	oidSHA256.String():                        "SHA-256",
	oidSHA384.String():                        "SHA-384",
	oidSHA512.String():                        "SHA-512",
	OIDPBES2.String():                         "PBES2",
	OIDPBEWithSHAAnd128BitRC2CBC.String():     "pbeWithSHAAnd128BitRC2-CBC",
	OIDPBEWithSHAAnd40BitRC2CBC.String():      "pbeWithSHAAnd40BitRC2-CBC",
	OIDPBEWithSHAAnd3KeyTripleDESCBC.String(): "pbeWithSHAAnd3-KeyTripleDES-CBC",
	OIDPBEWithSHAAnd2KeyTripleDESCBC.String(): "pbeWithSHAAnd2-KeyTripleDES-CBC",
}

var bagTypeNames = map[string]string{
	OIDKeyBag.String():              "keyBag",
	OIDPKCS8ShroudedKeyBag.String(): "pkcs8ShroudedKeyBag",
	OIDCertBag.String():             "certBag",
	OIDCRLBag.String():              "crlBag",
	OIDSecretBag.String():           "secretBag",
	OIDSafeContentsBag.String():     "safeContentsBag",
}

// AlgorithmName returns a display name for a MAC digest or encryption scheme
// OID, or the dotted OID when it is not one this package knows.
func AlgorithmName(oid asn1.ObjectIdentifier) string {
	if name, ok := algorithmNames[oid.String()]; ok {
		return name
	}
	return oid.String()
}

// BagTypeName returns the RFC 7292 name of a bag type OID, or the dotted OID.
func BagTypeName(oid asn1.ObjectIdentifier) string {
	if name, ok := bagTypeNames[oid.String()]; ok {
		return name
	}
	return oid.String()
}
