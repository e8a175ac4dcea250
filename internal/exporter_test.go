package internal

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/sensiblebit/pfxkit"
)

func TestBuildExport_Formats(t *testing.T) {
	// WHY: Every export format must round-trip to the same leaf so users can
	// re-package a container without losing material; binary formats that
	// carry a key must be marked sensitive.
	t.Parallel()
	chain := newTestChain(t, "export.example.com")
	m := chain.material(t)

	tests := []struct {
		format    string
		wantNames []string
		sensitive bool
		check     func(t *testing.T, data []byte)
	}{
		{"pem", []string{"export.example.com.key.pem", "export.example.com.cert.pem", "export.example.com.chain.pem", "export.example.com.fullchain.pem"}, true, nil},
		{"json", []string{"export.example.com.json"}, true, func(t *testing.T, data []byte) {
			var got pfxkit.ParsedMaterial
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if got.CertificatePEM != m.CertificatePEM || len(got.CACertificatesPEM) != 2 {
				t.Error("JSON export lost certificate PEM")
			}
		}},
		{"p12", []string{"export.example.com.p12"}, true, func(t *testing.T, data []byte) {
			assertPFXLeaf(t, data, DefaultExportPassword, m)
		}},
		{"p12-legacy", []string{"export.example.com.p12"}, true, func(t *testing.T, data []byte) {
			assertPFXLeaf(t, data, DefaultExportPassword, m)
		}},
		{"p12-named", []string{"export.example.com.p12"}, true, func(t *testing.T, data []byte) {
			assertPFXLeaf(t, data, DefaultExportPassword, m)
		}},
		{"p7b", []string{"export.example.com.p7b"}, false, func(t *testing.T, data []byte) {
			certs, err := pfxkit.DecodePKCS7(data)
			if err != nil {
				t.Fatal(err)
			}
			if len(certs) != 3 || !certs[0].Equal(m.Leaf) {
				t.Errorf("P7B has %d certs, want leaf first of 3", len(certs))
			}
		}},
		{"jks", []string{"export.example.com.jks"}, true, func(t *testing.T, data []byte) {
			entries, err := pfxkit.DecodeJKS(data, DefaultExportPassword)
			if err != nil {
				t.Fatal(err)
			}
			if entries[0].Alias != pfxkit.DefaultJKSAlias || !entries[0].Chain[0].Equal(m.Leaf) {
				t.Errorf("unexpected JKS entry %q", entries[0].Alias)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			t.Parallel()
			files, err := BuildExport(ExportInput{Material: m, Format: tt.format})
			if err != nil {
				t.Fatal(err)
			}
			if len(files) != len(tt.wantNames) {
				t.Fatalf("got %d files, want %d", len(files), len(tt.wantNames))
			}
			for i, f := range files {
				if f.Name != tt.wantNames[i] {
					t.Errorf("file %d = %q, want %q", i, f.Name, tt.wantNames[i])
				}
			}
			if files[0].Sensitive != tt.sensitive {
				t.Errorf("Sensitive = %v, want %v", files[0].Sensitive, tt.sensitive)
			}
			if tt.check != nil {
				tt.check(t, files[0].Data)
			}
		})
	}
}

func assertPFXLeaf(t *testing.T, data []byte, password string, want *pfxkit.ParsedMaterial) {
	t.Helper()
	got, err := pfxkit.Parse(data, password)
	if err != nil {
		t.Fatalf("re-parse export: %v", err)
	}
	if !got.Leaf.Equal(want.Leaf) || len(got.CACertificates) != len(want.CACertificates) {
		t.Error("exported PFX does not hold the same chain")
	}
}

func TestBuildExport_K8sSecret(t *testing.T) {
	// WHY: Ingress controllers serve tls.crt as-is; a self-signed root in it
	// is wasted bytes and trips some clients, so roots go to ca.crt only.
	t.Parallel()
	chain := newTestChain(t, "*.example.com")
	m := chain.material(t)

	files, err := BuildExport(ExportInput{Material: m, Format: "k8s"})
	if err != nil {
		t.Fatal(err)
	}
	if files[0].Name != "_.example.com.k8s.yaml" {
		t.Errorf("Name = %q", files[0].Name)
	}

	var secret K8sSecret
	if err := yaml.Unmarshal(files[0].Data, &secret); err != nil {
		t.Fatal(err)
	}
	if secret.Type != "kubernetes.io/tls" || secret.Metadata.Name != "example.com" {
		t.Errorf("Type = %q, Name = %q", secret.Type, secret.Metadata.Name)
	}
	crt, err := base64.StdEncoding.DecodeString(secret.Data["tls.crt"])
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(crt), "BEGIN CERTIFICATE"); got != 2 {
		t.Errorf("tls.crt holds %d certificates, want leaf and intermediate", got)
	}
	ca, err := base64.StdEncoding.DecodeString(secret.Data["ca.crt"])
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(ca), "BEGIN CERTIFICATE"); got != 2 {
		t.Errorf("ca.crt holds %d certificates, want 2", got)
	}
	key, err := base64.StdEncoding.DecodeString(secret.Data["tls.key"])
	if err != nil {
		t.Fatal(err)
	}
	if string(key) != m.PrivateKeyPEM {
		t.Error("tls.key does not hold the private key PEM")
	}
}

func TestBuildExport_Errors(t *testing.T) {
	t.Parallel()
	chain := newTestChain(t, "err.example.com")
	m := chain.material(t)

	if _, err := BuildExport(ExportInput{Material: m, Format: "der"}); err == nil || !strings.Contains(err.Error(), "unsupported export format") {
		t.Errorf("unknown format: err = %v", err)
	}
	if _, err := BuildExport(ExportInput{Format: "pem"}); err == nil {
		t.Error("expected error for nil material")
	}
}

func TestWriteExport_Directory(t *testing.T) {
	// WHY: Files holding private keys must not be world-readable.
	t.Parallel()
	chain := newTestChain(t, "write.example.com")
	files, err := BuildExport(ExportInput{Material: chain.material(t), Format: "pem", Prefix: "site"})
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "out")
	if err := WriteExport(files, "pem", dir, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		mode os.FileMode
	}{
		{"site.key.pem", 0600},
		{"site.cert.pem", 0644},
		{"site.chain.pem", 0644},
		{"site.fullchain.pem", 0644},
	}
	for _, tt := range tests {
		info, err := os.Stat(filepath.Join(dir, tt.name))
		if err != nil {
			t.Fatal(err)
		}
		if got := info.Mode().Perm(); got&^0022 != tt.mode&^0022 {
			t.Errorf("%s mode = %o, want %o", tt.name, got, tt.mode)
		}
	}
}

func TestWriteExport_Stdout(t *testing.T) {
	// WHY: Piping PEM output should produce the key then the full chain, the
	// order nginx and HAProxy expect in a combined file.
	t.Parallel()
	chain := newTestChain(t, "stdout.example.com")
	m := chain.material(t)
	files, err := BuildExport(ExportInput{Material: m, Format: "pem"})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteExport(files, "pem", "", &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, m.PrivateKeyPEM) {
		t.Error("stdout does not start with the private key")
	}
	if got := strings.Count(out, "BEGIN CERTIFICATE"); got != 3 {
		t.Errorf("stdout holds %d certificates, want 3", got)
	}
}

func TestFilePrefixAndSecretName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prefix string
		want   string
	}{
		{"www.example.com", "www.example.com"},
		{"_.example.com", "example.com"},
		{"My Server", "my-server"},
		{"***", "tls"},
	}
	for _, tt := range tests {
		if got := SecretName(tt.prefix); got != tt.want {
			t.Errorf("SecretName(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}

	if IsBinaryFormat("pem") || !IsBinaryFormat("jks") {
		t.Error("IsBinaryFormat misclassifies formats")
	}
}
