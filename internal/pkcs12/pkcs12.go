// Package pkcs12 decodes PKCS#12 containers (RFC 7292) into an ordered list of
// typed safe bags, and encodes containers from the same bag types.
//
// Unlike a chain-oriented decoder, every bag is returned in the order it
// appears in the container, with shrouded keys decrypted and attributes
// decoded, so callers can implement their own key and leaf selection.
package pkcs12

import (
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidDataContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidEncryptedDataContentType = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 6}

	// Safe bag types (RFC 7292 section 4.2).
	OIDKeyBag              = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 1}
	OIDPKCS8ShroudedKeyBag = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 2}
	OIDCertBag             = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 3}
	OIDCRLBag              = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 4}
	OIDSecretBag           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 5}
	OIDSafeContentsBag     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 6}

	OIDX509Certificate = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 22, 1}

	OIDFriendlyName = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 20}
	OIDLocalKeyID   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 21}
)

var (
	// ErrMalformed is returned when the input is not a well-formed PFX.
	ErrMalformed = errors.New("pkcs12: malformed container")
	// ErrIncorrectPassword is returned when the MAC does not verify, or when a
	// container without a MAC fails to decrypt.
	ErrIncorrectPassword = errors.New("pkcs12: decryption password incorrect")
	// ErrUnsupportedAlgorithm is returned for MAC, KDF, or cipher OIDs this
	// package does not implement.
	ErrUnsupportedAlgorithm = errors.New("pkcs12: unsupported algorithm")
	// ErrDecryption is returned when a container whose MAC verified still
	// fails to decrypt (corrupted ciphertext or a separate key password).
	ErrDecryption = errors.New("pkcs12: decryption failed")
)

// maxNesting bounds recursion through nested safeContentsBag entries.
const maxNesting = 8

// pfx is the outer PFX PDU.
//
//	PFX ::= SEQUENCE {
//	  version    INTEGER {v3(3)}(v3,...),
//	  authSafe   ContentInfo,
//	  macData    MacData OPTIONAL
//	}
type pfx struct {
	authSafe []byte // DER AuthenticatedSafe, the MAC input
	macData  *macData
}

type contentInfo struct {
	contentType asn1.ObjectIdentifier
	content     cryptobyte.String // body of the [0] EXPLICIT wrapper
}

type macData struct {
	algorithm  asn1.ObjectIdentifier
	digest     []byte
	salt       []byte
	iterations int
}

// algorithmIdentifier keeps the parameters undecoded; each scheme parses its own.
type algorithmIdentifier struct {
	oid    asn1.ObjectIdentifier
	params cryptobyte.String
}

type safeBag struct {
	id         asn1.ObjectIdentifier
	value      cryptobyte.String // body of the [0] EXPLICIT bagValue
	attributes Attributes
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func parsePFX(data []byte) (*pfx, error) {
	if len(data) < 2 {
		return nil, malformed("input too short (%d bytes)", len(data))
	}
	if data[0] == 0x30 && data[1] == 0x80 {
		return nil, malformed("BER indefinite-length encoding is not supported, re-export the container as DER")
	}
	if data[0] != 0x30 {
		return nil, malformed("expected SEQUENCE tag 0x30, got 0x%02x", data[0])
	}

	input := cryptobyte.String(data)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("reading PFX SEQUENCE")
	}
	if !input.Empty() {
		return nil, malformed("trailing data after PFX")
	}

	var version int
	if !seq.ReadASN1Integer(&version) {
		return nil, malformed("reading PFX version")
	}
	if version != 3 {
		return nil, malformed("unsupported PFX version %d", version)
	}

	ci, err := parseContentInfo(&seq)
	if err != nil {
		return nil, fmt.Errorf("parsing authSafe: %w", err)
	}
	if !ci.contentType.Equal(oidDataContentType) {
		// Public-key integrity mode (signedData) is not implemented.
		return nil, fmt.Errorf("%w: authSafe content type %s", ErrUnsupportedAlgorithm, ci.contentType)
	}

	p := &pfx{}
	if !ci.content.ReadASN1Bytes(&p.authSafe, cryptobyte_asn1.OCTET_STRING) {
		return nil, malformed("reading authSafe OCTET STRING")
	}

	if !seq.Empty() {
		md, err := parseMacData(&seq)
		if err != nil {
			return nil, err
		}
		p.macData = md
	}
	return p, nil
}

func parseContentInfo(s *cryptobyte.String) (contentInfo, error) {
	var ci contentInfo
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return ci, malformed("reading ContentInfo SEQUENCE")
	}
	if !seq.ReadASN1ObjectIdentifier(&ci.contentType) {
		return ci, malformed("reading ContentInfo contentType")
	}
	if !seq.ReadASN1(&ci.content, cryptobyte_asn1.Tag(0).ContextSpecific().Constructed()) {
		return ci, malformed("reading ContentInfo content")
	}
	return ci, nil
}

func parseMacData(s *cryptobyte.String) (*macData, error) {
	var md macData
	var seq, digestInfo cryptobyte.String
	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("reading MacData SEQUENCE")
	}
	if !seq.ReadASN1(&digestInfo, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("reading MacData DigestInfo")
	}
	alg, err := parseAlgorithmIdentifier(&digestInfo)
	if err != nil {
		return nil, err
	}
	md.algorithm = alg.oid
	if !digestInfo.ReadASN1Bytes(&md.digest, cryptobyte_asn1.OCTET_STRING) {
		return nil, malformed("reading MAC digest")
	}
	if !seq.ReadASN1Bytes(&md.salt, cryptobyte_asn1.OCTET_STRING) {
		return nil, malformed("reading MAC salt")
	}
	// iterations INTEGER DEFAULT 1
	md.iterations = 1
	if !seq.Empty() && !seq.ReadASN1Integer(&md.iterations) {
		return nil, malformed("reading MAC iterations")
	}
	if md.iterations < 1 || md.iterations > maxIterations {
		return nil, malformed("MAC iteration count %d out of range", md.iterations)
	}
	return &md, nil
}

func parseAuthenticatedSafe(data []byte) ([]contentInfo, error) {
	input := cryptobyte.String(data)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("reading AuthenticatedSafe SEQUENCE")
	}
	var infos []contentInfo
	for !seq.Empty() {
		ci, err := parseContentInfo(&seq)
		if err != nil {
			return nil, err
		}
		infos = append(infos, ci)
	}
	return infos, nil
}

func parseSafeContents(data []byte) ([]safeBag, error) {
	input := cryptobyte.String(data)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("reading SafeContents SEQUENCE")
	}
	var bags []safeBag
	for !seq.Empty() {
		bag, err := parseSafeBag(&seq)
		if err != nil {
			return nil, err
		}
		bags = append(bags, bag)
	}
	return bags, nil
}

func parseSafeBag(s *cryptobyte.String) (safeBag, error) {
	var bag safeBag
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return bag, malformed("reading SafeBag SEQUENCE")
	}
	if !seq.ReadASN1ObjectIdentifier(&bag.id) {
		return bag, malformed("reading bagId")
	}
	if !seq.ReadASN1(&bag.value, cryptobyte_asn1.Tag(0).ContextSpecific().Constructed()) {
		return bag, malformed("reading bagValue")
	}
	bag.attributes = Attributes{}
	if seq.Empty() {
		return bag, nil
	}
	var attrSet cryptobyte.String
	if !seq.ReadASN1(&attrSet, cryptobyte_asn1.SET) {
		return bag, malformed("reading bagAttributes SET")
	}
	for !attrSet.Empty() {
		if err := parseAttribute(&attrSet, bag.attributes); err != nil {
			return bag, err
		}
	}
	return bag, nil
}

// parseAttribute decodes one PKCS12Attribute into attrs, keeping the first
// value of multi-valued attributes.
func parseAttribute(s *cryptobyte.String, attrs Attributes) error {
	var seq, values cryptobyte.String
	var id asn1.ObjectIdentifier
	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return malformed("reading attribute SEQUENCE")
	}
	if !seq.ReadASN1ObjectIdentifier(&id) {
		return malformed("reading attribute id")
	}
	if !seq.ReadASN1(&values, cryptobyte_asn1.SET) {
		return malformed("reading attribute values SET")
	}
	if values.Empty() {
		return nil
	}
	var element cryptobyte.String
	var tag cryptobyte_asn1.Tag
	if !values.ReadAnyASN1Element(&element, &tag) {
		return malformed("reading attribute value")
	}
	if _, seen := attrs[id.String()]; !seen {
		attrs[id.String()] = decodeAttributeValue(element, tag)
	}
	return nil
}

func parseAlgorithmIdentifier(s *cryptobyte.String) (algorithmIdentifier, error) {
	var alg algorithmIdentifier
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return alg, malformed("reading AlgorithmIdentifier")
	}
	if !seq.ReadASN1ObjectIdentifier(&alg.oid) {
		return alg, malformed("reading algorithm OID")
	}
	alg.params = seq
	return alg, nil
}

// parseCertBag returns the certType and the certValue OCTET STRING contents.
func parseCertBag(value cryptobyte.String) (asn1.ObjectIdentifier, []byte, error) {
	var seq, explicit cryptobyte.String
	var certType asn1.ObjectIdentifier
	var raw []byte
	if !value.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return nil, nil, malformed("reading CertBag SEQUENCE")
	}
	if !seq.ReadASN1ObjectIdentifier(&certType) {
		return nil, nil, malformed("reading certId")
	}
	if !seq.ReadASN1(&explicit, cryptobyte_asn1.Tag(0).ContextSpecific().Constructed()) {
		return nil, nil, malformed("reading certValue")
	}
	if !explicit.ReadASN1Bytes(&raw, cryptobyte_asn1.OCTET_STRING) {
		return nil, nil, malformed("reading certValue OCTET STRING")
	}
	return certType, raw, nil
}

// parseEncryptedPrivateKeyInfo splits an RFC 5208 EncryptedPrivateKeyInfo.
func parseEncryptedPrivateKeyInfo(value cryptobyte.String) (algorithmIdentifier, []byte, error) {
	var seq cryptobyte.String
	var data []byte
	if !value.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return algorithmIdentifier{}, nil, malformed("reading EncryptedPrivateKeyInfo SEQUENCE")
	}
	alg, err := parseAlgorithmIdentifier(&seq)
	if err != nil {
		return algorithmIdentifier{}, nil, err
	}
	if !seq.ReadASN1Bytes(&data, cryptobyte_asn1.OCTET_STRING) {
		return algorithmIdentifier{}, nil, malformed("reading encryptedData OCTET STRING")
	}
	return alg, data, nil
}

// parseEncryptedData splits a PKCS#7 EncryptedData into its content
// encryption algorithm and ciphertext.
//
//	EncryptedData ::= SEQUENCE {
//	  version               INTEGER,
//	  encryptedContentInfo  SEQUENCE {
//	    contentType                 OBJECT IDENTIFIER,
//	    contentEncryptionAlgorithm  AlgorithmIdentifier,
//	    encryptedContent            [0] IMPLICIT OCTET STRING OPTIONAL
//	  }
//	}
func parseEncryptedData(content cryptobyte.String) (algorithmIdentifier, []byte, error) {
	var seq, eci cryptobyte.String
	var version int
	var contentType asn1.ObjectIdentifier
	if !content.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return algorithmIdentifier{}, nil, malformed("reading EncryptedData SEQUENCE")
	}
	if !seq.ReadASN1Integer(&version) {
		return algorithmIdentifier{}, nil, malformed("reading EncryptedData version")
	}
	if version != 0 {
		return algorithmIdentifier{}, nil, malformed("unsupported EncryptedData version %d", version)
	}
	if !seq.ReadASN1(&eci, cryptobyte_asn1.SEQUENCE) {
		return algorithmIdentifier{}, nil, malformed("reading EncryptedContentInfo")
	}
	if !eci.ReadASN1ObjectIdentifier(&contentType) {
		return algorithmIdentifier{}, nil, malformed("reading EncryptedContentInfo contentType")
	}
	alg, err := parseAlgorithmIdentifier(&eci)
	if err != nil {
		return algorithmIdentifier{}, nil, err
	}

	var ciphertext []byte
	switch {
	case eci.PeekASN1Tag(cryptobyte_asn1.Tag(0).ContextSpecific()):
		if !eci.ReadASN1Bytes(&ciphertext, cryptobyte_asn1.Tag(0).ContextSpecific()) {
			return algorithmIdentifier{}, nil, malformed("reading encryptedContent")
		}
	case eci.PeekASN1Tag(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed()):
		// Constructed form: a series of OCTET STRING segments.
		var segments cryptobyte.String
		if !eci.ReadASN1(&segments, cryptobyte_asn1.Tag(0).ContextSpecific().Constructed()) {
			return algorithmIdentifier{}, nil, malformed("reading encryptedContent")
		}
		for !segments.Empty() {
			var part []byte
			if !segments.ReadASN1Bytes(&part, cryptobyte_asn1.OCTET_STRING) {
				return algorithmIdentifier{}, nil, malformed("reading encryptedContent segment")
			}
			ciphertext = append(ciphertext, part...)
		}
	}
	return alg, ciphertext, nil
}
