package internal

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/sensiblebit/pfxkit"
)

// DefaultExportPassword protects p12 and jks exports when no password is
// given, matching the keytool default.
const DefaultExportPassword = "changeit"

// ExportFormats lists the values accepted for ExportInput.Format.
var ExportFormats = []string{"pem", "json", "k8s", "p12", "p12-legacy", "p12-named", "p7b", "jks"}

var binaryFormats = []string{"p12", "p12-legacy", "p12-named", "p7b", "jks"}

// IsBinaryFormat reports whether format produces DER or keystore bytes.
func IsBinaryFormat(format string) bool {
	return slices.Contains(binaryFormats, format)
}

// ExportInput holds parameters for Export.
type ExportInput struct {
	Material *pfxkit.ParsedMaterial
	Format   string
	// Password protects p12 and jks output; empty uses DefaultExportPassword.
	Password string
	// OutDir receives the files; empty writes the primary files to stdout.
	OutDir string
	// Prefix names the files; empty derives it from the leaf.
	Prefix string
}

// BuildExport renders the material in the requested format.
func BuildExport(in ExportInput) ([]ExportFile, error) {
	m := in.Material
	if m == nil || m.Leaf == nil {
		return nil, errors.New("nothing to export: no leaf certificate")
	}
	prefix := in.Prefix
	if prefix == "" {
		prefix = FilePrefix(m.Leaf)
	}
	password := in.Password
	if password == "" {
		password = DefaultExportPassword
	}

	switch in.Format {
	case "pem", "":
		return pemFiles(m, prefix), nil
	case "json":
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling JSON: %w", err)
		}
		return []ExportFile{{Name: prefix + ".json", Data: append(data, '\n'), Sensitive: true, Primary: true}}, nil
	case "k8s":
		data, err := k8sSecretYAML(m, prefix)
		if err != nil {
			return nil, err
		}
		return []ExportFile{{Name: prefix + ".k8s.yaml", Data: data, Sensitive: true, Primary: true}}, nil
	case "p12", "p12-legacy", "p12-named":
		var data []byte
		var err error
		switch in.Format {
		case "p12":
			data, err = pfxkit.EncodePKCS12(m.PrivateKey, m.Leaf, m.CACertificates, password)
		case "p12-legacy":
			data, err = pfxkit.EncodePKCS12Legacy(m.PrivateKey, m.Leaf, m.CACertificates, password)
		default:
			data, err = pfxkit.EncodePKCS12WithFriendlyName(m, password)
		}
		if err != nil {
			return nil, fmt.Errorf("creating P12: %w", err)
		}
		return []ExportFile{{Name: prefix + ".p12", Data: data, Sensitive: true, Primary: true}}, nil
	case "p7b":
		data, err := pfxkit.EncodePKCS7(slices.Concat([]*x509.Certificate{m.Leaf}, m.CACertificates))
		if err != nil {
			return nil, fmt.Errorf("creating P7B: %w", err)
		}
		return []ExportFile{{Name: prefix + ".p7b", Data: data, Primary: true}}, nil
	case "jks":
		data, err := pfxkit.EncodeJKS(m.PrivateKey, m.Leaf, m.CACertificates, password, pfxkit.JKSAlias(m))
		if err != nil {
			return nil, fmt.Errorf("creating JKS: %w", err)
		}
		return []ExportFile{{Name: prefix + ".jks", Data: data, Sensitive: true, Primary: true}}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (use %s)", in.Format, strings.Join(ExportFormats, ", "))
	}
}

func pemFiles(m *pfxkit.ParsedMaterial, prefix string) []ExportFile {
	leafPEM := []byte(m.CertificatePEM)
	chainPEM := []byte(strings.Join(m.CACertificatesPEM, ""))
	fullchainPEM := slices.Concat(leafPEM, chainPEM)

	files := []ExportFile{
		{Name: prefix + ".key.pem", Data: []byte(m.PrivateKeyPEM), Sensitive: true, Primary: true},
		{Name: prefix + ".cert.pem", Data: leafPEM},
	}
	if len(chainPEM) > 0 {
		files = append(files, ExportFile{Name: prefix + ".chain.pem", Data: chainPEM})
	}
	return append(files, ExportFile{Name: prefix + ".fullchain.pem", Data: fullchainPEM, Primary: true})
}

// k8sSecretYAML builds a kubernetes.io/tls Secret. tls.crt carries the leaf
// and the container's intermediates; self-signed roots go to ca.crt only.
func k8sSecretYAML(m *pfxkit.ParsedMaterial, prefix string) ([]byte, error) {
	crt := pfxkit.CertToPEM(m.Leaf)
	var ca string
	for _, c := range m.CACertificates {
		p := pfxkit.CertToPEM(c)
		if pfxkit.CertificateRole(c) != "root" {
			crt += p
		}
		ca += p
	}

	secret := K8sSecret{
		APIVersion: "v1",
		Kind:       "Secret",
		Type:       "kubernetes.io/tls",
		Metadata:   K8sMetadata{Name: SecretName(prefix)},
		Data: map[string]string{
			"tls.crt": base64.StdEncoding.EncodeToString([]byte(crt)),
			"tls.key": base64.StdEncoding.EncodeToString([]byte(m.PrivateKeyPEM)),
		},
	}
	if ca != "" {
		secret.Data["ca.crt"] = base64.StdEncoding.EncodeToString([]byte(ca))
	}
	if m.FriendlyName != nil {
		secret.Metadata.Annotations = map[string]string{"pfxkit.sensiblebit.com/friendly-name": *m.FriendlyName}
	}
	data, err := yaml.Marshal(secret)
	if err != nil {
		return nil, fmt.Errorf("marshaling kubernetes secret YAML: %w", err)
	}
	return data, nil
}

// FilePrefix returns a file name prefix for cert: its common name, then its
// first DNS SAN, then "serial-<hex>", with wildcards and path separators
// replaced.
func FilePrefix(cert *x509.Certificate) string {
	name := cert.Subject.CommonName
	if name == "" && len(cert.DNSNames) > 0 {
		name = cert.DNSNames[0]
	}
	if name == "" {
		name = "serial-" + cert.SerialNumber.Text(16)
	}
	return strings.NewReplacer("*", "_", "/", "_", "\\", "_", " ", "_").Replace(name)
}

// SecretName turns a file prefix into a valid Kubernetes object name.
func SecretName(prefix string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(prefix) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	name := strings.Trim(sb.String(), "-.")
	if name == "" {
		return "tls"
	}
	if len(name) > 253 {
		name = strings.TrimRight(name[:253], "-.")
	}
	return name
}

// WriteExport writes files under outDir, or their primary files to stdout
// when outDir is empty. Binary output to a terminal is refused.
func WriteExport(files []ExportFile, format, outDir string, stdout io.Writer) error {
	if outDir == "" {
		if IsBinaryFormat(format) && isTerminal(stdout) {
			return fmt.Errorf("refusing to write binary %s output to a terminal; use --out or redirect stdout", format)
		}
		for _, f := range files {
			if !f.Primary {
				continue
			}
			if _, err := stdout.Write(f.Data); err != nil {
				return fmt.Errorf("writing %s: %w", f.Name, err)
			}
		}
		return nil
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", outDir, err)
	}
	for _, f := range files {
		mode := os.FileMode(0644)
		if f.Sensitive {
			mode = 0600
		}
		path := filepath.Join(outDir, f.Name)
		if err := os.WriteFile(path, f.Data, mode); err != nil {
			return fmt.Errorf("writing %s: %w", f.Name, err)
		}
		slog.Debug("wrote export file", "path", path, "bytes", len(f.Data))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
