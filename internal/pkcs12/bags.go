package pkcs12

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Bag is one decoded safe bag. The concrete type is one of *ShroudedKeyBag,
// *KeyBag, *CertBag, or *OtherBag.
type Bag interface {
	BagID() asn1.ObjectIdentifier
	BagAttributes() Attributes
	isBag()
}

// ShroudedKeyBag is a pkcs8ShroudedKeyBag after decryption.
type ShroudedKeyBag struct {
	// PKCS8 is the decrypted DER PrivateKeyInfo.
	PKCS8 []byte
	// Algorithm is the encryption scheme the key was protected with.
	Algorithm  asn1.ObjectIdentifier
	Attributes Attributes
}

// KeyBag is an unencrypted keyBag.
type KeyBag struct {
	PKCS8      []byte
	Attributes Attributes
}

// CertBag is a certBag. Raw holds the certValue contents; for
// x509Certificate bags that is the DER certificate.
type CertBag struct {
	CertType   asn1.ObjectIdentifier
	Raw        []byte
	Attributes Attributes
}

// OtherBag is any bag this package does not interpret (crlBag, secretBag,
// vendor bags). Value is the DER bagValue.
type OtherBag struct {
	ID         asn1.ObjectIdentifier
	Value      []byte
	Attributes Attributes
}

func (b *ShroudedKeyBag) BagID() asn1.ObjectIdentifier { return OIDPKCS8ShroudedKeyBag }
func (b *KeyBag) BagID() asn1.ObjectIdentifier         { return OIDKeyBag }
func (b *CertBag) BagID() asn1.ObjectIdentifier        { return OIDCertBag }
func (b *OtherBag) BagID() asn1.ObjectIdentifier       { return b.ID }

func (b *ShroudedKeyBag) BagAttributes() Attributes { return b.Attributes }
func (b *KeyBag) BagAttributes() Attributes         { return b.Attributes }
func (b *CertBag) BagAttributes() Attributes        { return b.Attributes }
func (b *OtherBag) BagAttributes() Attributes       { return b.Attributes }

func (*ShroudedKeyBag) isBag() {}
func (*KeyBag) isBag()         {}
func (*CertBag) isBag()        {}
func (*OtherBag) isBag()       {}

// IsX509 reports whether the bag carries an X.509 certificate.
func (b *CertBag) IsX509() bool { return b.CertType.Equal(OIDX509Certificate) }

// AttributeValue is the decoded first value of a bag attribute. The concrete
// type is StringValue, BytesValue, or RawValue.
type AttributeValue interface {
	isAttributeValue()
}

// StringValue is a BMPString or UTF8String attribute value.
type StringValue string

// BytesValue is an OCTET STRING attribute value.
type BytesValue []byte

// RawValue is the full DER element of an attribute value of any other type.
type RawValue []byte

func (StringValue) isAttributeValue() {}
func (BytesValue) isAttributeValue()  {}
func (RawValue) isAttributeValue()    {}

// Attributes maps a dotted attribute OID to its value.
type Attributes map[string]AttributeValue

// Get returns the value stored for oid.
func (a Attributes) Get(oid asn1.ObjectIdentifier) (AttributeValue, bool) {
	v, ok := a[oid.String()]
	return v, ok
}

// FriendlyName returns the friendlyName attribute when it holds a string.
func (a Attributes) FriendlyName() (string, bool) {
	v, ok := a.Get(OIDFriendlyName)
	if !ok {
		return "", false
	}
	s, ok := v.(StringValue)
	return string(s), ok
}

// LocalKeyID returns the localKeyId attribute when it holds an OCTET STRING.
func (a Attributes) LocalKeyID() ([]byte, bool) {
	v, ok := a.Get(OIDLocalKeyID)
	if !ok {
		return nil, false
	}
	b, ok := v.(BytesValue)
	return []byte(b), ok
}

func decodeAttributeValue(element cryptobyte.String, tag cryptobyte_asn1.Tag) AttributeValue {
	full := []byte(element)
	var body cryptobyte.String
	switch tag {
	case cryptobyte_asn1.Tag(30): // BMPString
		if element.ReadASN1(&body, tag) {
			if s, err := decodeBMPString(body); err == nil {
				return StringValue(s)
			}
		}
	case cryptobyte_asn1.UTF8String:
		if element.ReadASN1(&body, tag) {
			return StringValue(body)
		}
	case cryptobyte_asn1.OCTET_STRING:
		if element.ReadASN1(&body, tag) {
			return BytesValue(body)
		}
	}
	return RawValue(full)
}

// Contents is the result of Decode.
type Contents struct {
	// Bags lists every bag in encounter order, with nested safeContentsBag
	// entries flattened in place.
	Bags []Bag
	// MACAlgorithm is the MAC digest OID, nil when the container has no MAC.
	MACAlgorithm asn1.ObjectIdentifier
}

// Integrity reports whether a MAC protected the container.
func (c *Contents) Integrity() bool { return c.MACAlgorithm != nil }

// Decode parses DER-encoded PKCS#12 data, verifies the MAC with password and
// returns every bag with shrouded keys decrypted.
//
// A MAC failure returns ErrIncorrectPassword. For the empty password the MAC
// is retried with a zero-length password, which some encoders use instead of
// the two-byte terminator.
func Decode(data []byte, password string) (*Contents, error) {
	p, err := parsePFX(data)
	if err != nil {
		return nil, err
	}
	bmpPassword, err := bmpStringZeroTerminated(password)
	if err != nil {
		return nil, err
	}

	c := &Contents{}
	if p.macData != nil {
		if err := p.macData.verify(p.authSafe, bmpPassword); err != nil {
			if !errors.Is(err, ErrIncorrectPassword) || password != "" {
				return nil, err
			}
			if err := p.macData.verify(p.authSafe, nil); err != nil {
				return nil, err
			}
			bmpPassword = nil
		}
		c.MACAlgorithm = p.macData.algorithm
	}

	d := &decrypter{
		bmpPassword:  bmpPassword,
		utf8Password: []byte(password),
		integrity:    c.Integrity(),
	}

	infos, err := parseAuthenticatedSafe(p.authSafe)
	if err != nil {
		return nil, err
	}
	for i, ci := range infos {
		var safe []byte
		switch {
		case ci.contentType.Equal(oidDataContentType):
			if !ci.content.ReadASN1Bytes(&safe, cryptobyte_asn1.OCTET_STRING) {
				return nil, malformed("reading data safe %d", i)
			}
		case ci.contentType.Equal(oidEncryptedDataContentType):
			alg, ciphertext, err := parseEncryptedData(ci.content)
			if err != nil {
				return nil, fmt.Errorf("safe %d: %w", i, err)
			}
			if safe, err = d.decrypt(alg, ciphertext); err != nil {
				return nil, fmt.Errorf("decrypting safe %d: %w", i, err)
			}
			slog.Debug("decrypted safe", "index", i, "algorithm", alg.oid.String())
		default:
			slog.Debug("skipping safe with unsupported content type", "index", i, "content_type", ci.contentType.String())
			continue
		}

		if c.Bags, err = d.appendSafeContents(c.Bags, safe, 0); err != nil {
			if !d.integrity && errors.Is(err, ErrMalformed) && ci.contentType.Equal(oidEncryptedDataContentType) {
				// Wrong keys occasionally produce valid padding.
				return nil, ErrIncorrectPassword
			}
			return nil, fmt.Errorf("safe %d: %w", i, err)
		}
	}
	return c, nil
}

func (d *decrypter) appendSafeContents(bags []Bag, data []byte, depth int) ([]Bag, error) {
	if depth > maxNesting {
		return nil, malformed("safe contents nested deeper than %d levels", maxNesting)
	}
	raw, err := parseSafeContents(data)
	if err != nil {
		return nil, err
	}
	for _, sb := range raw {
		if sb.id.Equal(OIDSafeContentsBag) {
			var nested cryptobyte.String
			if !sb.value.ReadASN1Element(&nested, cryptobyte_asn1.SEQUENCE) {
				return nil, malformed("reading nested SafeContents")
			}
			if bags, err = d.appendSafeContents(bags, nested, depth+1); err != nil {
				return nil, err
			}
			continue
		}
		bag, err := d.decodeBag(sb)
		if err != nil {
			return nil, err
		}
		bags = append(bags, bag)
	}
	return bags, nil
}

func (d *decrypter) decodeBag(sb safeBag) (Bag, error) {
	switch {
	case sb.id.Equal(OIDPKCS8ShroudedKeyBag):
		alg, ciphertext, err := parseEncryptedPrivateKeyInfo(sb.value)
		if err != nil {
			return nil, err
		}
		plaintext, err := d.decrypt(alg, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypting shrouded key bag: %w", err)
		}
		return &ShroudedKeyBag{PKCS8: plaintext, Algorithm: alg.oid, Attributes: sb.attributes}, nil

	case sb.id.Equal(OIDKeyBag):
		var element cryptobyte.String
		if !sb.value.ReadASN1Element(&element, cryptobyte_asn1.SEQUENCE) {
			return nil, malformed("reading keyBag PrivateKeyInfo")
		}
		return &KeyBag{PKCS8: element, Attributes: sb.attributes}, nil

	case sb.id.Equal(OIDCertBag):
		certType, raw, err := parseCertBag(sb.value)
		if err != nil {
			return nil, err
		}
		return &CertBag{CertType: certType, Raw: raw, Attributes: sb.attributes}, nil

	default:
		return &OtherBag{ID: sb.id, Value: sb.value, Attributes: sb.attributes}, nil
	}
}
