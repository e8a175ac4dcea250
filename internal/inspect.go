package internal

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sensiblebit/pfxkit"
	"github.com/sensiblebit/pfxkit/internal/pkcs12"
)

// InspectResult describes the structure of one container.
type InspectResult struct {
	Integrity    bool       `json:"integrity"`
	MACAlgorithm string     `json:"mac_algorithm,omitempty"`
	Bags         []BagInfo  `json:"bags"`
	Certificates []CertInfo `json:"certificates"`
	Key          *KeyInfo   `json:"private_key,omitempty"`
	ExtractError string     `json:"extract_error,omitempty"`
}

// BagInfo describes one safe bag in encounter order.
type BagInfo struct {
	Index        int    `json:"index"`
	Type         string `json:"type"`
	FriendlyName string `json:"friendly_name,omitempty"`
	LocalKeyID   string `json:"local_key_id,omitempty"`
	Encryption   string `json:"encryption,omitempty"`
	CertType     string `json:"cert_type,omitempty"`
}

// CertInfo holds the display details of one certificate bag.
type CertInfo struct {
	BagIndex  int    `json:"bag_index"`
	Leaf      bool   `json:"leaf"`
	Role      string `json:"role"`
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
	KeyAlgo   string `json:"key_algorithm"`
	KeySize   int    `json:"key_size"`
	SHA256    string `json:"sha256_fingerprint"`
	SHA1      string `json:"sha1_fingerprint"`
	SigAlg    string `json:"signature_algorithm"`
	ParseErr  string `json:"parse_error,omitempty"`
}

// KeyInfo describes the private key extraction selects.
type KeyInfo struct {
	Algorithm   string `json:"algorithm"`
	Size        int    `json:"size"`
	MatchesLeaf bool   `json:"matches_leaf"`
}

// InspectContainer decodes data with the first password that opens it and
// lists every bag. Extraction failures such as a missing key are reported
// in ExtractError rather than returned, so partial containers still inspect.
func InspectContainer(data []byte, passwords []string) (*InspectResult, error) {
	if len(passwords) == 0 {
		passwords = []string{""}
	}

	var contents *pkcs12.Contents
	var password string
	var err error
	for _, password = range passwords {
		contents, err = pkcs12.Decode(data, password)
		if err == nil || !errors.Is(err, pkcs12.ErrIncorrectPassword) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("none of %d passwords worked: %w", len(passwords), pfxkit.ErrIncorrectPassword)
		}
		return nil, fmt.Errorf("%w: %w", pfxkit.ErrInvalidContainer, err)
	}

	r := &InspectResult{Integrity: contents.Integrity(), Bags: []BagInfo{}, Certificates: []CertInfo{}}
	if r.Integrity {
		r.MACAlgorithm = pkcs12.AlgorithmName(contents.MACAlgorithm)
	}

	var leafDER []byte
	m, err := pfxkit.Parse(data, password)
	if err != nil {
		r.ExtractError = err.Error()
		slog.Debug("container inspects but does not extract", "error", err)
	} else {
		leafDER = m.Leaf.Raw
		r.Key = &KeyInfo{
			Algorithm:   pfxkit.KeyAlgorithmName(m.PrivateKey),
			Size:        privateKeySize(m.PrivateKey),
			MatchesLeaf: m.LeafMatched,
		}
	}

	leafMarked := false
	for i, bag := range contents.Bags {
		info := BagInfo{Index: i, Type: pkcs12.BagTypeName(bag.BagID())}
		attrs := bag.BagAttributes()
		if name, ok := attrs.FriendlyName(); ok {
			info.FriendlyName = name
		}
		if id, ok := attrs.LocalKeyID(); ok {
			info.LocalKeyID = pfxkit.ColonHex(id)
		}

		switch b := bag.(type) {
		case *pkcs12.ShroudedKeyBag:
			info.Encryption = pkcs12.AlgorithmName(b.Algorithm)
		case *pkcs12.CertBag:
			if !b.IsX509() {
				info.CertType = b.CertType.String()
				break
			}
			info.CertType = "x509"
			ci := inspectCert(i, b.Raw)
			if !leafMarked && leafDER != nil && string(b.Raw) == string(leafDER) {
				ci.Leaf = true
				leafMarked = true
			}
			r.Certificates = append(r.Certificates, ci)
		}
		r.Bags = append(r.Bags, info)
	}
	return r, nil
}

func inspectCert(bagIndex int, der []byte) CertInfo {
	cert, err := pfxkit.ParseCertificateLenient(der)
	if err != nil {
		return CertInfo{BagIndex: bagIndex, ParseErr: err.Error()}
	}
	return CertInfo{
		BagIndex:  bagIndex,
		Role:      pfxkit.CertificateRole(cert),
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		Serial:    cert.SerialNumber.Text(16),
		NotBefore: cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:  cert.NotAfter.UTC().Format(time.RFC3339),
		KeyAlgo:   pfxkit.PublicKeyAlgorithmName(cert.PublicKey),
		KeySize:   pfxkit.PublicKeySize(cert.PublicKey),
		SHA256:    pfxkit.CertFingerprintColonSHA256(cert),
		SHA1:      pfxkit.CertFingerprintColonSHA1(cert),
		SigAlg:    cert.SignatureAlgorithm.String(),
	}
}

func privateKeySize(key crypto.PrivateKey) int {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return 0
	}
	return pfxkit.PublicKeySize(signer.Public())
}

// FormatInspectResult formats an inspection result as text or JSON.
func FormatInspectResult(r *InspectResult, format string) (string, error) {
	switch format {
	case "text", "":
		return formatInspectText(r), nil
	case "json":
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling JSON: %w", err)
		}
		return string(data) + "\n", nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use text or json)", format)
	}
}

func formatInspectText(r *InspectResult) string {
	var sb strings.Builder
	if r.Integrity {
		fmt.Fprintf(&sb, "Integrity:   MAC (%s)\n", r.MACAlgorithm)
	} else {
		sb.WriteString("Integrity:   none\n")
	}

	fmt.Fprintf(&sb, "\nBags (%d):\n", len(r.Bags))
	for _, b := range r.Bags {
		fmt.Fprintf(&sb, "  %d: %s", b.Index, b.Type)
		if b.CertType != "" {
			fmt.Fprintf(&sb, " [%s]", b.CertType)
		}
		if b.Encryption != "" {
			fmt.Fprintf(&sb, " (%s)", b.Encryption)
		}
		sb.WriteString("\n")
		if b.FriendlyName != "" {
			fmt.Fprintf(&sb, "     friendlyName: %s\n", b.FriendlyName)
		}
		if b.LocalKeyID != "" {
			fmt.Fprintf(&sb, "     localKeyID:   %s\n", b.LocalKeyID)
		}
	}

	for _, c := range r.Certificates {
		sb.WriteString("\n")
		if c.ParseErr != "" {
			fmt.Fprintf(&sb, "Certificate (bag %d): unparseable (%s)\n", c.BagIndex, c.ParseErr)
			continue
		}
		tag := ""
		if c.Leaf {
			tag = "  [leaf]"
		}
		fmt.Fprintf(&sb, "Certificate (bag %d):%s\n", c.BagIndex, tag)
		fmt.Fprintf(&sb, "  Subject:     %s\n", c.Subject)
		fmt.Fprintf(&sb, "  Issuer:      %s\n", c.Issuer)
		fmt.Fprintf(&sb, "  Serial:      %s\n", c.Serial)
		fmt.Fprintf(&sb, "  Type:        %s\n", c.Role)
		fmt.Fprintf(&sb, "  Not Before:  %s\n", c.NotBefore)
		fmt.Fprintf(&sb, "  Not After:   %s\n", c.NotAfter)
		fmt.Fprintf(&sb, "  Key:         %s %d\n", c.KeyAlgo, c.KeySize)
		fmt.Fprintf(&sb, "  Signature:   %s\n", c.SigAlg)
		fmt.Fprintf(&sb, "  SHA-256:     %s\n", c.SHA256)
		fmt.Fprintf(&sb, "  SHA-1:       %s\n", c.SHA1)
	}

	if r.Key != nil {
		match := "no (fallback to first certificate)"
		if r.Key.MatchesLeaf {
			match = "yes"
		}
		sb.WriteString("\nPrivate Key:\n")
		fmt.Fprintf(&sb, "  Type:        %s\n", r.Key.Algorithm)
		fmt.Fprintf(&sb, "  Size:        %d\n", r.Key.Size)
		fmt.Fprintf(&sb, "  Leaf match:  %s\n", match)
	}
	if r.ExtractError != "" {
		fmt.Fprintf(&sb, "\nExtraction:  %s\n", r.ExtractError)
	}
	return sb.String()
}
