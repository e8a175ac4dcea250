package internal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestBatchAnnotation(t *testing.T) {
	// WHY: BatchAnnotation formats the parenthetical expiry/failure counts
	// in the batch summary line. All four code paths must produce correct output.
	t.Parallel()

	tests := []struct {
		name    string
		expired int
		failed  int
		want    string
	}{
		{"both zero", 0, 0, ""},
		{"only expired", 3, 0, " (3 expired)"},
		{"only failed", 0, 2, " (2 failed)"},
		{"both non-zero", 1, 4, " (1 expired, 4 failed)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := BatchAnnotation(tt.expired, tt.failed)
			if got != tt.want {
				t.Errorf("BatchAnnotation(%d, %d) = %q, want %q", tt.expired, tt.failed, got, tt.want)
			}
		})
	}
}

func TestFormatBatch(t *testing.T) {
	t.Parallel()
	chain := newTestChain(t, "format.example.com")
	r, err := VerifyContainer(VerifyInput{Data: chain.pfx(t, "pw"), VerifyOptions: VerifyOptions{Passwords: []string{"pw"}}})
	if err != nil {
		t.Fatal(err)
	}
	results := []BatchResult{
		{Path: "good.p12", Result: r},
		{Path: "bad.p12", Err: errors.New("boom"), Error: "boom"},
	}

	text, err := FormatBatch(results, "text")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"== good.p12 ==", "Verification OK", "Error: boom", "2 containers verified (1 failed)"} {
		if !strings.Contains(text, want) {
			t.Errorf("text output missing %q:\n%s", want, text)
		}
	}

	out, err := FormatBatch(results, "json")
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded[1]["error"] != "boom" || decoded[0]["result"] == nil {
		t.Errorf("unexpected JSON %s", out)
	}

	if _, err := FormatBatch(results, "xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
