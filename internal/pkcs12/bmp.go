package pkcs12

import (
	"errors"
	"unicode/utf16"
)

var errNotBMP = errors.New("pkcs12: string contains characters that cannot be encoded in UCS-2")

// bmpStringZeroTerminated encodes s as big-endian UCS-2 followed by a
// two-byte NUL, the password form used by the PKCS#12 KDF. The empty string
// encodes as the terminator alone.
func bmpStringZeroTerminated(s string) ([]byte, error) {
	b, err := bmpString(s)
	if err != nil {
		return nil, err
	}
	return append(b, 0, 0), nil
}

func bmpString(s string) ([]byte, error) {
	out := make([]byte, 0, 2*len(s))
	for _, r := range s {
		if r > 0xffff || utf16.IsSurrogate(r) {
			return nil, errNotBMP
		}
		out = append(out, byte(r>>8), byte(r))
	}
	return out, nil
}

// decodeBMPString decodes big-endian UTF-16, dropping one trailing NUL if
// the encoder included it.
func decodeBMPString(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", errors.New("pkcs12: odd-length BMPString")
	}
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	if n := len(units); n > 0 && units[n-1] == 0 {
		units = units[:n-1]
	}
	return string(utf16.Decode(units)), nil
}
