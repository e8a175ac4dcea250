package internal

import (
	"fmt"
	"io"
	"os"

	"github.com/sensiblebit/pfxkit"
)

// maxInputSize bounds how much of a file or stdin ReadInput accepts.
const maxInputSize = 64 << 20

// Stdin is read by ReadInput when it is the path.
var Stdin io.Reader = os.Stdin

// ReadInput reads a container from path, or from stdin when path is "-".
// With base64Input the content is always base64-decoded; otherwise it is
// decoded only when LooksBase64 reports true.
func ReadInput(path string, base64Input bool) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("reading %s: input exceeds %d bytes", path, maxInputSize)
	}

	if base64Input || LooksBase64(data) {
		return pfxkit.DecodeBase64(string(data))
	}
	return data, nil
}

// LooksBase64 reports whether data is base64 text rather than DER. A PFX
// always contains control bytes (the INTEGER tag of its version among them),
// which base64 text never does.
func LooksBase64(data []byte) bool {
	seen := false
	for _, c := range data {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '+', c == '/', c == '=':
			seen = true
		case c == ' ', c == '\t', c == '\r', c == '\n':
		default:
			return false
		}
	}
	return seen
}
