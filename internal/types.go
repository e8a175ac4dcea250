package internal

// K8sSecret represents a Kubernetes TLS secret
type K8sSecret struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Type       string            `yaml:"type"`
	Metadata   K8sMetadata       `yaml:"metadata"`
	Data       map[string]string `yaml:"data"`
}

// K8sMetadata represents Kubernetes resource metadata
type K8sMetadata struct {
	Name        string            `yaml:"name"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

// ExportFile is one output file of an export.
type ExportFile struct {
	Name string
	Data []byte
	// Sensitive files carry private key material and are written 0600.
	Sensitive bool
	// Primary files are the ones written when exporting to stdout.
	Primary bool
}
