package internal

import (
	"context"
	"crypto/x509"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/sensiblebit/pfxkit"
)

func TestVerifyContainer(t *testing.T) {
	// WHY: verify is the CI gate for certificate rollouts; expiry inside the
	// warning window must warn without failing, while an expired leaf or a
	// broken chain must fail.
	t.Parallel()
	chain := newTestChain(t, "verify.example.com")
	soon := newRSALeaf(t, chain.intermediate, "soon.example.com", time.Now().Add(10*24*time.Hour))
	soonPFX, err := gopkcs12.Modern.Encode(soon.key, soon.cert, chain.cas(), "pw")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		data       []byte
		opts       VerifyOptions
		wantOK     bool
		wantWarn   string
		wantErrSub string
		chainLen   int
	}{
		{
			name:     "valid with custom roots",
			data:     chain.pfx(t, "pw"),
			opts:     VerifyOptions{CheckChain: true, TrustStore: pfxkit.TrustStoreCustom, CustomRoots: []*x509.Certificate{chain.root.cert}, ExpiryWarning: pfxkit.DefaultExpiryWarning},
			wantOK:   true,
			chainLen: 3,
		},
		{
			name:     "expiring soon warns",
			data:     soonPFX,
			opts:     VerifyOptions{ExpiryWarning: pfxkit.DefaultExpiryWarning},
			wantOK:   true,
			wantWarn: "expires in",
		},
		{
			name:       "expired at verification time",
			data:       chain.pfx(t, "pw"),
			opts:       VerifyOptions{Now: time.Now().Add(2 * 365 * 24 * time.Hour)},
			wantErrSub: "expired",
		},
		{
			name:       "private root fails mozilla store",
			data:       chain.pfx(t, "pw"),
			opts:       VerifyOptions{CheckChain: true},
			wantErrSub: "chain validation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.opts.Passwords = []string{"pw"}
			r, err := VerifyContainer(VerifyInput{Data: tt.data, VerifyOptions: tt.opts})
			if err != nil {
				t.Fatal(err)
			}
			if r.OK() != tt.wantOK {
				t.Errorf("OK() = %v, want %v (errors %v)", r.OK(), tt.wantOK, r.Errors)
			}
			if !r.KeyMatch {
				t.Error("KeyMatch = false")
			}
			if tt.wantWarn != "" && !strings.Contains(strings.Join(r.Warnings, "\n"), tt.wantWarn) {
				t.Errorf("Warnings = %v, want %q", r.Warnings, tt.wantWarn)
			}
			if tt.wantErrSub != "" && !strings.Contains(strings.Join(r.Errors, "\n"), tt.wantErrSub) {
				t.Errorf("Errors = %v, want %q", r.Errors, tt.wantErrSub)
			}
			if len(r.Chain) != tt.chainLen {
				t.Errorf("chain length = %d, want %d", len(r.Chain), tt.chainLen)
			}
		})
	}
}

func TestVerifyContainer_Strict(t *testing.T) {
	// WHY: A container whose key belongs to none of its certificates is a
	// broken export; strict mode must reject it while the default mode
	// verifies the first certificate with a warning.
	t.Parallel()
	chain := newTestChain(t, "strict.example.com")
	other := newRSALeaf(t, chain.intermediate, "other.example.com", time.Now().Add(24*time.Hour))
	data, err := gopkcs12.Modern.Encode(other.key, chain.leaf.cert, nil, "pw")
	if err != nil {
		t.Fatal(err)
	}

	r, err := VerifyContainer(VerifyInput{Data: data, VerifyOptions: VerifyOptions{Passwords: []string{"pw"}}})
	if err != nil {
		t.Fatal(err)
	}
	if r.KeyMatch || !strings.Contains(strings.Join(r.Warnings, "\n"), "matches no certificate") {
		t.Errorf("KeyMatch = %v, Warnings = %v", r.KeyMatch, r.Warnings)
	}

	_, err = VerifyContainer(VerifyInput{Data: data, VerifyOptions: VerifyOptions{Passwords: []string{"pw"}, Strict: true}})
	if !errors.Is(err, pfxkit.ErrLeafNotMatched) {
		t.Errorf("strict: err = %v, want ErrLeafNotMatched", err)
	}
}

func TestVerifyBatch(t *testing.T) {
	// WHY: One unreadable file must not hide the results for the rest, and
	// results must come back in argument order regardless of scheduling.
	t.Parallel()
	dir := t.TempDir()
	var paths []string
	for i, cn := range []string{"a.example.com", "b.example.com", "c.example.com"} {
		chain := newTestChain(t, cn)
		paths = append(paths, writeTestFile(t, dir, cn+".p12", chain.pfx(t, "pw")))
		if i == 1 {
			paths = append(paths, filepath.Join(dir, "missing.p12"))
		}
	}

	results := VerifyBatch(context.Background(), paths, VerifyOptions{Passwords: []string{"pw"}}, 2)
	if len(results) != len(paths) {
		t.Fatalf("got %d results, want %d", len(results), len(paths))
	}
	wantCN := []string{"a.example.com", "b.example.com", "", "c.example.com"}
	for i, r := range results {
		if r.Path != paths[i] {
			t.Errorf("result %d path = %q, want %q", i, r.Path, paths[i])
		}
		if wantCN[i] == "" {
			if r.Err == nil || !r.Failed() {
				t.Errorf("result %d: expected error for missing file", i)
			}
			continue
		}
		if r.Err != nil {
			t.Fatalf("result %d: %v", i, r.Err)
		}
		if r.Result.Material.Leaf.Subject.CommonName != wantCN[i] {
			t.Errorf("result %d CN = %q, want %q", i, r.Result.Material.Leaf.Subject.CommonName, wantCN[i])
		}
	}
}

func TestVerifyBatch_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := VerifyBatch(ctx, []string{"x.p12", "y.p12"}, VerifyOptions{}, 1)
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: err = %v, want context.Canceled", r.Path, r.Err)
		}
	}
}

func TestFormatVerifyResult(t *testing.T) {
	t.Parallel()
	chain := newTestChain(t, "text.example.com")
	r, err := VerifyContainer(VerifyInput{Data: chain.pfx(t, "pw"), VerifyOptions: VerifyOptions{
		Passwords:   []string{"pw"},
		CheckChain:  true,
		TrustStore:  pfxkit.TrustStoreCustom,
		CustomRoots: []*x509.Certificate{chain.root.cert},
	}})
	if err != nil {
		t.Fatal(err)
	}
	out := FormatVerifyResult(r)
	for _, want := range []string{"Certificate: CN=text.example.com", "Key Match: OK (RSA 2048)", "Chain: VALID", "[root]", "Verification OK"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
