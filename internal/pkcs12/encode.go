package pkcs12

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"encoding/asn1"
	"io"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterations is the PBKDF2 and MAC iteration count used when
// EncodeInput.Iterations is zero.
const DefaultIterations = 2048

const saltLen = 16

// Safe is one entry of the authenticated safe.
type Safe struct {
	Bags []Bag
	// Encrypted wraps the safe in a PBES2 (AES-256-CBC) EncryptedData.
	Encrypted bool
}

// EncodeInput holds the parameters for Encode.
type EncodeInput struct {
	Safes    []Safe
	Password string
	// Iterations defaults to DefaultIterations.
	Iterations int
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
	// NoMAC omits MacData. Shrouded keys and encrypted safes are still
	// protected by Password.
	NoMAC bool
}

// Encode builds a DER PFX from the given safes, in order. ShroudedKeyBag
// entries are encrypted with PBES2 (PBKDF2-HMAC-SHA256, AES-256-CBC); every
// other bag is written as given. The MAC is HMAC-SHA256.
func Encode(in EncodeInput) ([]byte, error) {
	bmpPassword, err := bmpStringZeroTerminated(in.Password)
	if err != nil {
		return nil, err
	}
	e := &encoder{
		rand:         in.Rand,
		iterations:   in.Iterations,
		utf8Password: []byte(in.Password),
	}
	if e.rand == nil {
		e.rand = rand.Reader
	}
	if e.iterations == 0 {
		e.iterations = DefaultIterations
	}

	var infos [][]byte
	for i, safe := range in.Safes {
		contents, err := e.marshalSafeContents(safe.Bags)
		if err != nil {
			return nil, fmt.Errorf("encoding safe %d: %w", i, err)
		}
		var ci []byte
		if safe.Encrypted {
			ci, err = e.encryptedContentInfo(contents)
		} else {
			ci, err = dataContentInfo(contents)
		}
		if err != nil {
			return nil, fmt.Errorf("encoding safe %d: %w", i, err)
		}
		infos = append(infos, ci)
	}

	ab := cryptobyte.NewBuilder(nil)
	ab.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, ci := range infos {
			b.AddBytes(ci)
		}
	})
	authSafe, err := ab.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding authenticated safe: %w", err)
	}
	authSafeCI, err := dataContentInfo(authSafe)
	if err != nil {
		return nil, err
	}

	var macSalt, digest []byte
	if !in.NoMAC {
		if macSalt, err = e.random(saltLen); err != nil {
			return nil, err
		}
		digest = computeMAC(sha256.New, authSafe, bmpPassword, macSalt, e.iterations)
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(3)
		b.AddBytes(authSafeCI)
		if in.NoMAC {
			return
		}
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(oidSHA256)
					b.AddASN1NULL()
				})
				b.AddASN1OctetString(digest)
			})
			b.AddASN1OctetString(macSalt)
			b.AddASN1Int64(int64(e.iterations))
		})
	})
	return b.Bytes()
}

// ChainInput holds the parameters for EncodeChain.
type ChainInput struct {
	Key          crypto.PrivateKey
	Leaf         *x509.Certificate
	CACerts      []*x509.Certificate
	Password     string
	FriendlyName string
	Rand         io.Reader
}

// EncodeChain builds the conventional two-safe layout: an encrypted safe with
// the leaf and CA certificates, then a data safe with the shrouded key. The
// key and leaf bags share a localKeyId (SHA-1 of the leaf DER) and, when set,
// the friendlyName.
func EncodeChain(in ChainInput) ([]byte, error) {
	if in.Leaf == nil {
		return nil, errors.New("pkcs12: leaf certificate cannot be nil")
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(in.Key)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key to PKCS#8: %w", err)
	}

	keyID := sha1.Sum(in.Leaf.Raw)
	attrs := Attributes{OIDLocalKeyID.String(): BytesValue(keyID[:])}
	if in.FriendlyName != "" {
		attrs[OIDFriendlyName.String()] = StringValue(in.FriendlyName)
	}

	certs := []Bag{&CertBag{CertType: OIDX509Certificate, Raw: in.Leaf.Raw, Attributes: attrs}}
	for _, ca := range in.CACerts {
		certs = append(certs, &CertBag{CertType: OIDX509Certificate, Raw: ca.Raw})
	}

	return Encode(EncodeInput{
		Safes: []Safe{
			{Bags: certs, Encrypted: true},
			{Bags: []Bag{&ShroudedKeyBag{PKCS8: pkcs8, Attributes: attrs}}},
		},
		Password: in.Password,
		Rand:     in.Rand,
	})
}

type encoder struct {
	rand         io.Reader
	iterations   int
	utf8Password []byte
}

func (e *encoder) random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(e.rand, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

func (e *encoder) marshalSafeContents(bags []Bag) ([]byte, error) {
	values := make([][]byte, len(bags))
	for i, bag := range bags {
		v, err := e.bagValue(bag)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for i, bag := range bags {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(bag.BagID())
				b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
					b.AddBytes(values[i])
				})
				if attrs := bag.BagAttributes(); len(attrs) > 0 {
					b.AddASN1(cryptobyte_asn1.SET, func(b *cryptobyte.Builder) {
						addAttributes(b, attrs)
					})
				}
			})
		}
	})
	return b.Bytes()
}

func (e *encoder) bagValue(bag Bag) ([]byte, error) {
	switch bag := bag.(type) {
	case *ShroudedKeyBag:
		alg, ciphertext, err := e.encrypt(bag.PKCS8)
		if err != nil {
			return nil, err
		}
		b := cryptobyte.NewBuilder(nil)
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddBytes(alg)
			b.AddASN1OctetString(ciphertext)
		})
		return b.Bytes()
	case *KeyBag:
		return bag.PKCS8, nil
	case *CertBag:
		certType := bag.CertType
		if certType == nil {
			certType = OIDX509Certificate
		}
		b := cryptobyte.NewBuilder(nil)
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(certType)
			b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
				b.AddASN1OctetString(bag.Raw)
			})
		})
		return b.Bytes()
	case *OtherBag:
		return bag.Value, nil
	default:
		return nil, fmt.Errorf("pkcs12: unsupported bag type %T", bag)
	}
}

// addAttributes writes attrs sorted by OID so output is deterministic.
func addAttributes(b *cryptobyte.Builder, attrs Attributes) {
	oids := make([]string, 0, len(attrs))
	for oid := range attrs {
		oids = append(oids, oid)
	}
	slices.Sort(oids)

	for _, dotted := range oids {
		oid, err := parseDottedOID(dotted)
		if err != nil {
			b.SetError(err)
			return
		}
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oid)
			b.AddASN1(cryptobyte_asn1.SET, func(b *cryptobyte.Builder) {
				switch v := attrs[dotted].(type) {
				case StringValue:
					bmp, err := bmpString(string(v))
					if err != nil {
						b.SetError(err)
						return
					}
					b.AddASN1(cryptobyte_asn1.Tag(30), func(b *cryptobyte.Builder) {
						b.AddBytes(bmp)
					})
				case BytesValue:
					b.AddASN1OctetString(v)
				case RawValue:
					b.AddBytes(v)
				}
			})
		})
	}
}

func parseDottedOID(dotted string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(dotted, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("pkcs12: invalid attribute OID %q", dotted)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("pkcs12: invalid attribute OID %q", dotted)
		}
		oid[i] = n
	}
	return oid, nil
}

// encrypt returns a DER PBES2 AlgorithmIdentifier and the ciphertext.
func (e *encoder) encrypt(plaintext []byte) ([]byte, []byte, error) {
	salt, err := e.random(saltLen)
	if err != nil {
		return nil, nil, err
	}
	iv, err := e.random(aes.BlockSize)
	if err != nil {
		return nil, nil, err
	}

	key := pbkdf2.Key(e.utf8Password, salt, e.iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(slices.Clone(plaintext), make([]byte, padLen)...)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDPBES2)
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidPBKDF2)
				b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1OctetString(salt)
					b.AddASN1Int64(int64(e.iterations))
					b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(oidHMACWithSHA256)
						b.AddASN1NULL()
					})
				})
			})
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidAES256CBC)
				b.AddASN1OctetString(iv)
			})
		})
	})
	alg, err := b.Bytes()
	if err != nil {
		return nil, nil, err
	}
	return alg, ciphertext, nil
}

func (e *encoder) encryptedContentInfo(contents []byte) ([]byte, error) {
	alg, ciphertext, err := e.encrypt(contents)
	if err != nil {
		return nil, err
	}
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oidEncryptedDataContentType)
		b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(0)
				b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(oidDataContentType)
					b.AddBytes(alg)
					b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) {
						b.AddBytes(ciphertext)
					})
				})
			})
		})
	})
	return b.Bytes()
}

func dataContentInfo(contents []byte) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oidDataContentType)
		b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1OctetString(contents)
		})
	})
	return b.Bytes()
}
