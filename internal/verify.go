package internal

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sensiblebit/pfxkit"
)

// VerifyOptions holds the verification settings shared by every container
// of a batch.
type VerifyOptions struct {
	Passwords     []string
	Base64        bool
	CheckChain    bool
	TrustStore    string
	CustomRoots   []*x509.Certificate
	ExpiryWarning time.Duration
	// Strict fails containers whose key matches no certificate instead of
	// falling back to the first certificate.
	Strict bool
	// Now is the verification time; zero means time.Now().
	Now time.Time
}

// VerifyInput is one container and the options to verify it with.
type VerifyInput struct {
	Data []byte
	VerifyOptions
}

// ChainCert holds display information for one certificate in the chain.
type ChainCert struct {
	Subject string `json:"subject"`
	Expiry  string `json:"expiry"`
	IsRoot  bool   `json:"is_root,omitempty"`
}

// VerifyResult holds the results of verification checks on one container.
type VerifyResult struct {
	Subject      string                 `json:"subject"`
	SANs         []string               `json:"sans,omitempty"`
	FriendlyName string                 `json:"friendly_name,omitempty"`
	KeyMatch     bool                   `json:"key_match"`
	KeyInfo      string                 `json:"key_info"`
	Validity     *pfxkit.ValidityReport `json:"validity"`
	ChainValid   *bool                  `json:"chain_valid,omitempty"`
	ChainErr     string                 `json:"chain_error,omitempty"`
	Chain        []ChainCert            `json:"chain,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	Errors       []string               `json:"errors,omitempty"`

	Material *pfxkit.ParsedMaterial `json:"-"`
}

// OK reports whether every check passed.
func (r *VerifyResult) OK() bool { return len(r.Errors) == 0 }

// VerifyContainer extracts the container and checks key match, validity
// and, when requested, the chain. Extraction failures are returned as
// errors; failed checks are collected in the result's Errors.
func VerifyContainer(in VerifyInput) (*VerifyResult, error) {
	policy := pfxkit.FallbackToFirstCertificate
	if in.Strict {
		policy = pfxkit.RequireKeyMatch
	}
	m, _, err := pfxkit.Extractor{Policy: policy}.ParseWithPasswords(in.Data, in.Passwords)
	if err != nil {
		return nil, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	cert := m.Leaf
	result := &VerifyResult{
		Subject:  cert.Subject.String(),
		SANs:     cert.DNSNames,
		KeyMatch: m.LeafMatched,
		KeyInfo:  fmt.Sprintf("%s %d", pfxkit.KeyAlgorithmName(m.PrivateKey), privateKeySize(m.PrivateKey)),
		Validity: pfxkit.CheckValidity(cert, now, in.ExpiryWarning),
		Material: m,
	}
	if m.FriendlyName != nil {
		result.FriendlyName = *m.FriendlyName
	}
	if !m.LeafMatched {
		result.Warnings = append(result.Warnings, "private key matches no certificate; using the first certificate")
	}
	result.Warnings = append(result.Warnings, result.Validity.Warnings...)
	result.Errors = append(result.Errors, result.Validity.Errors...)

	if in.CheckChain {
		chain, err := pfxkit.VerifyChain(pfxkit.VerifyChainInput{
			Leaf:          cert,
			Intermediates: m.CACertificates,
			TrustStore:    in.TrustStore,
			CustomRoots:   in.CustomRoots,
			At:            now,
		})
		valid := err == nil
		result.ChainValid = &valid
		if err != nil {
			result.ChainErr = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("chain validation: %s", err))
		} else {
			result.Chain = buildChainDisplay(chain.Chain)
			result.Warnings = append(result.Warnings, chain.Warnings...)
		}
	}
	return result, nil
}

func buildChainDisplay(certs []*x509.Certificate) []ChainCert {
	chain := make([]ChainCert, 0, len(certs))
	for _, c := range certs {
		chain = append(chain, ChainCert{
			Subject: c.Subject.String(),
			Expiry:  c.NotAfter.UTC().Format("2006-01-02"),
			IsRoot:  pfxkit.CertificateRole(c) == "root",
		})
	}
	return chain
}

// BatchResult is the outcome for one path of VerifyBatch. VerifyBatch sets
// exactly one of Result and Err.
type BatchResult struct {
	Path   string        `json:"path"`
	Result *VerifyResult `json:"result,omitempty"`
	Err    error         `json:"-"`
	Error  string        `json:"error,omitempty"`
}

// Failed reports whether the container could not be verified or failed a
// check.
func (b BatchResult) Failed() bool {
	return b.Err != nil || b.Result == nil || !b.Result.OK()
}

// VerifyBatch verifies paths with at most limit containers in flight. The
// results follow the order of paths; a failing file does not stop the rest.
// Cancelling ctx marks the files not yet started with ctx's error.
func VerifyBatch(ctx context.Context, paths []string, opts VerifyOptions, limit int) []BatchResult {
	results := make([]BatchResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, path := range paths {
		results[i].Path = path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].setErr(err)
				return nil
			}
			data, err := ReadInput(path, opts.Base64)
			if err != nil {
				results[i].setErr(err)
				return nil
			}
			r, err := VerifyContainer(VerifyInput{Data: data, VerifyOptions: opts})
			if err != nil {
				slog.Debug("verify failed", "path", path, "error", err)
				results[i].setErr(err)
				return nil
			}
			results[i].Result = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *BatchResult) setErr(err error) {
	b.Err = err
	b.Error = err.Error()
}

// FormatVerifyResult formats a verify result as human-readable text.
func FormatVerifyResult(r *VerifyResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Certificate: %s\n", r.Subject)

	if len(r.SANs) > 0 {
		fmt.Fprintf(&sb, "       SANs: %s\n", strings.Join(r.SANs, ", "))
	}
	if r.FriendlyName != "" {
		fmt.Fprintf(&sb, "       Name: %s\n", r.FriendlyName)
	}
	if v := r.Validity; v != nil {
		if v.Valid {
			fmt.Fprintf(&sb, "  Not After: %s (%d days)\n", v.NotAfter, v.DaysUntilExpiry)
		} else {
			fmt.Fprintf(&sb, "  Not After: %s\n", v.NotAfter)
		}
	}

	if r.KeyMatch {
		fmt.Fprintf(&sb, "  Key Match: OK (%s)\n", r.KeyInfo)
	} else {
		fmt.Fprintf(&sb, "  Key Match: NONE (%s)\n", r.KeyInfo)
	}

	if r.ChainValid != nil {
		if *r.ChainValid {
			sb.WriteString("      Chain: VALID\n")
		} else {
			fmt.Fprintf(&sb, "      Chain: INVALID (%s)\n", r.ChainErr)
		}
	}

	if len(r.Chain) > 0 {
		sb.WriteString("\nChain:\n")
		for i, c := range r.Chain {
			tag := ""
			if c.IsRoot {
				tag = "  [root]"
			}
			fmt.Fprintf(&sb, "  %d: %s  (expires %s)%s\n", i, c.Subject, c.Expiry, tag)
		}
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(&sb, "\n  Warning: %s", w)
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("\n")
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, "\nVerification FAILED (%d error(s))\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&sb, "  - %s\n", e)
		}
	} else {
		sb.WriteString("\nVerification OK\n")
	}

	return sb.String()
}

// ErrVerificationFailed is returned by the verify command when at least one
// container failed.
var ErrVerificationFailed = errors.New("verification failed")
