package pkcs12

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"hash"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/pbkdf2"
)

var (
	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA224 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	oidHMACWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 7}
	oidHMACWithSHA224 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 8}
	oidHMACWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 9}
	oidHMACWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 10}
	oidHMACWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 11}

	OIDPBES2     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
	oidPBKDF2    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}
	oidAES128CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
	oidAES192CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 22}
	oidAES256CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}

	OIDPBEWithSHAAnd128BitRC2CBC     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 5}
	OIDPBEWithSHAAnd40BitRC2CBC      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 6}
	OIDPBEWithSHAAnd3KeyTripleDESCBC = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 3}
	OIDPBEWithSHAAnd2KeyTripleDESCBC = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 4}
)

// maxIterations rejects KDF parameters that would stall decoding.
const maxIterations = 10_000_000

// PKCS#12 KDF diversifiers (RFC 7292 appendix B.3).
const (
	kdfEncryptionKey byte = 1
	kdfIV            byte = 2
	kdfMACKey        byte = 3
)

// legacyPBE describes a pbeWithSHAAnd* scheme from RFC 7292 appendix C.
type legacyPBE struct {
	keyLen int
	block  func(key []byte) (cipher.Block, error)
}

var legacyPBESchemes = map[string]legacyPBE{
	OIDPBEWithSHAAnd3KeyTripleDESCBC.String(): {keyLen: 24, block: des.NewTripleDESCipher},
	OIDPBEWithSHAAnd2KeyTripleDESCBC.String(): {keyLen: 16, block: func(key []byte) (cipher.Block, error) {
		return des.NewTripleDESCipher(append(key[:16:16], key[:8]...))
	}},
	OIDPBEWithSHAAnd128BitRC2CBC.String(): {keyLen: 16, block: func(key []byte) (cipher.Block, error) {
		return newRC2Cipher(key, 128)
	}},
	OIDPBEWithSHAAnd40BitRC2CBC.String(): {keyLen: 5, block: func(key []byte) (cipher.Block, error) {
		return newRC2Cipher(key, 40)
	}},
}

func digestFor(oid asn1.ObjectIdentifier) (func() hash.Hash, bool) {
	switch {
	case oid.Equal(oidSHA1):
		return sha1.New, true
	case oid.Equal(oidSHA224):
		return sha256.New224, true
	case oid.Equal(oidSHA256):
		return sha256.New, true
	case oid.Equal(oidSHA384):
		return sha512.New384, true
	case oid.Equal(oidSHA512):
		return sha512.New, true
	}
	return nil, false
}

func prfFor(oid asn1.ObjectIdentifier) (func() hash.Hash, bool) {
	switch {
	case oid.Equal(oidHMACWithSHA1):
		return sha1.New, true
	case oid.Equal(oidHMACWithSHA224):
		return sha256.New224, true
	case oid.Equal(oidHMACWithSHA256):
		return sha256.New, true
	case oid.Equal(oidHMACWithSHA384):
		return sha512.New384, true
	case oid.Equal(oidHMACWithSHA512):
		return sha512.New, true
	}
	return nil, false
}

func aesKeyLen(oid asn1.ObjectIdentifier) int {
	switch {
	case oid.Equal(oidAES128CBC):
		return 16
	case oid.Equal(oidAES192CBC):
		return 24
	case oid.Equal(oidAES256CBC):
		return 32
	}
	return 0
}

// pkcs12KDF derives size bytes of key material per RFC 7292 appendix B.2.
// password must already be in BMPString form.
func pkcs12KDF(newHash func() hash.Hash, password, salt []byte, iterations int, id byte, size int) []byte {
	h := newHash()
	u, v := h.Size(), h.BlockSize()

	d := bytes.Repeat([]byte{id}, v)
	i := append(fillBlocks(salt, v), fillBlocks(password, v)...)

	out := make([]byte, 0, size+u)
	for len(out) < size {
		h.Reset()
		h.Write(d)
		h.Write(i)
		a := h.Sum(nil)
		for n := 1; n < iterations; n++ {
			h.Reset()
			h.Write(a)
			a = h.Sum(a[:0])
		}
		out = append(out, a...)
		if len(out) >= size {
			break
		}

		b := fillBlocks(a, v)
		for j := 0; j < len(i); j += v {
			addWithCarry(i[j:j+v], b)
		}
	}
	return out[:size]
}

// fillBlocks repeats pattern to the smallest multiple of v bytes that holds it.
func fillBlocks(pattern []byte, v int) []byte {
	if len(pattern) == 0 {
		return nil
	}
	out := make([]byte, v*((len(pattern)+v-1)/v))
	for n := range out {
		out[n] = pattern[n%len(pattern)]
	}
	return out
}

// addWithCarry sets dst = (dst + b + 1) mod 2^(8*len(dst)).
func addWithCarry(dst, b []byte) {
	carry := uint(1)
	for k := len(dst) - 1; k >= 0; k-- {
		sum := uint(dst[k]) + uint(b[k]) + carry
		dst[k] = byte(sum)
		carry = sum >> 8
	}
}

func computeMAC(newHash func() hash.Hash, message, password, salt []byte, iterations int) []byte {
	key := pkcs12KDF(newHash, password, salt, iterations, kdfMACKey, newHash().Size())
	mac := hmac.New(newHash, key)
	mac.Write(message)
	return mac.Sum(nil)
}

func (m *macData) verify(message, password []byte) error {
	newHash, ok := digestFor(m.algorithm)
	if !ok {
		return fmt.Errorf("%w: MAC digest %s", ErrUnsupportedAlgorithm, m.algorithm)
	}
	if !hmac.Equal(computeMAC(newHash, message, password, m.salt, m.iterations), m.digest) {
		return ErrIncorrectPassword
	}
	return nil
}

// decrypter holds both password forms: legacy PBE schemes consume the
// BMPString, PBES2 consumes the UTF-8 octets.
type decrypter struct {
	bmpPassword  []byte
	utf8Password []byte
	// integrity is set when a MAC verified the password; decryption
	// failures are then reported as corruption rather than a wrong password.
	integrity bool
}

func (d *decrypter) decrypt(alg algorithmIdentifier, ciphertext []byte) ([]byte, error) {
	block, iv, err := d.cipherFor(alg)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(iv) != bs {
		return nil, malformed("IV length %d does not match block size %d", len(iv), bs)
	}
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, d.failure("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padLen := int(plaintext[len(plaintext)-1])
	if padLen == 0 || padLen > bs {
		return nil, d.failure("invalid padding")
	}
	for _, p := range plaintext[len(plaintext)-padLen:] {
		if int(p) != padLen {
			return nil, d.failure("invalid padding")
		}
	}
	return plaintext[:len(plaintext)-padLen], nil
}

// failure classifies a decryption failure: without a verified MAC the most
// likely cause is a wrong password.
func (d *decrypter) failure(format string, args ...any) error {
	if d.integrity {
		return fmt.Errorf("%w: %s", ErrDecryption, fmt.Sprintf(format, args...))
	}
	return ErrIncorrectPassword
}

func (d *decrypter) cipherFor(alg algorithmIdentifier) (cipher.Block, []byte, error) {
	if alg.oid.Equal(OIDPBES2) {
		return d.pbes2Cipher(alg.params)
	}
	scheme, ok := legacyPBESchemes[alg.oid.String()]
	if !ok {
		return nil, nil, fmt.Errorf("%w: encryption algorithm %s", ErrUnsupportedAlgorithm, alg.oid)
	}

	//	pkcs-12PbeParams ::= SEQUENCE {
	//	  salt        OCTET STRING,
	//	  iterations  INTEGER
	//	}
	params := alg.params
	var seq cryptobyte.String
	var salt []byte
	var iterations int
	if !params.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) ||
		!seq.ReadASN1Bytes(&salt, cryptobyte_asn1.OCTET_STRING) ||
		!seq.ReadASN1Integer(&iterations) {
		return nil, nil, malformed("reading PBE parameters")
	}
	if iterations < 1 || iterations > maxIterations {
		return nil, nil, malformed("PBE iteration count %d out of range", iterations)
	}

	key := pkcs12KDF(sha1.New, d.bmpPassword, salt, iterations, kdfEncryptionKey, scheme.keyLen)
	iv := pkcs12KDF(sha1.New, d.bmpPassword, salt, iterations, kdfIV, 8)
	block, err := scheme.block(key)
	if err != nil {
		return nil, nil, err
	}
	return block, iv, nil
}

// pbes2Cipher parses RFC 8018 PBES2-params with a PBKDF2 key derivation and
// an AES-CBC encryption scheme.
func (d *decrypter) pbes2Cipher(params cryptobyte.String) (cipher.Block, []byte, error) {
	var seq cryptobyte.String
	if !params.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return nil, nil, malformed("reading PBES2 parameters")
	}
	kdf, err := parseAlgorithmIdentifier(&seq)
	if err != nil {
		return nil, nil, err
	}
	if !kdf.oid.Equal(oidPBKDF2) {
		return nil, nil, fmt.Errorf("%w: PBES2 key derivation %s", ErrUnsupportedAlgorithm, kdf.oid)
	}
	scheme, err := parseAlgorithmIdentifier(&seq)
	if err != nil {
		return nil, nil, err
	}
	keyLen := aesKeyLen(scheme.oid)
	if keyLen == 0 {
		return nil, nil, fmt.Errorf("%w: PBES2 encryption scheme %s", ErrUnsupportedAlgorithm, scheme.oid)
	}
	var iv []byte
	if !scheme.params.ReadASN1Bytes(&iv, cryptobyte_asn1.OCTET_STRING) {
		return nil, nil, malformed("reading PBES2 IV")
	}

	//	PBKDF2-params ::= SEQUENCE {
	//	  salt            OCTET STRING,
	//	  iterationCount  INTEGER,
	//	  keyLength       INTEGER OPTIONAL,
	//	  prf             AlgorithmIdentifier DEFAULT hmacWithSHA1
	//	}
	var kdfParams cryptobyte.String
	var salt []byte
	var iterations int
	if !kdf.params.ReadASN1(&kdfParams, cryptobyte_asn1.SEQUENCE) ||
		!kdfParams.ReadASN1Bytes(&salt, cryptobyte_asn1.OCTET_STRING) ||
		!kdfParams.ReadASN1Integer(&iterations) {
		return nil, nil, malformed("reading PBKDF2 parameters")
	}
	if iterations < 1 || iterations > maxIterations {
		return nil, nil, malformed("PBKDF2 iteration count %d out of range", iterations)
	}
	if kdfParams.PeekASN1Tag(cryptobyte_asn1.INTEGER) {
		var declared int
		if !kdfParams.ReadASN1Integer(&declared) {
			return nil, nil, malformed("reading PBKDF2 keyLength")
		}
		if declared != keyLen {
			return nil, nil, malformed("PBKDF2 keyLength %d does not match cipher key size %d", declared, keyLen)
		}
	}
	prf := sha1.New
	if !kdfParams.Empty() {
		prfAlg, err := parseAlgorithmIdentifier(&kdfParams)
		if err != nil {
			return nil, nil, err
		}
		var ok bool
		if prf, ok = prfFor(prfAlg.oid); !ok {
			return nil, nil, fmt.Errorf("%w: PBKDF2 PRF %s", ErrUnsupportedAlgorithm, prfAlg.oid)
		}
	}

	key := pbkdf2.Key(d.utf8Password, salt, iterations, keyLen, prf)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	return block, iv, nil
}
