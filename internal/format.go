package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// VerifyFormats lists the values accepted by FormatBatch.
var VerifyFormats = []string{"text", "json", "cbom"}

// BatchAnnotation returns a parenthetical annotation like " (2 expired, 1 failed)"
// for non-zero counts, or an empty string if both are zero.
func BatchAnnotation(expired, failed int) string {
	var parts []string
	if expired > 0 {
		parts = append(parts, fmt.Sprintf("%d expired", expired))
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// BatchSummary is the closing line of a multi-file text report.
func BatchSummary(results []BatchResult) string {
	var expired, failed int
	for _, r := range results {
		if r.Failed() {
			failed++
		}
		if r.Result != nil && r.Result.Validity.Expired {
			expired++
		}
	}
	noun := "containers"
	if len(results) == 1 {
		noun = "container"
	}
	return fmt.Sprintf("%d %s verified%s\n", len(results), noun, BatchAnnotation(expired, failed))
}

// FormatBatch renders batch results as text, JSON, or a CycloneDX CBOM.
func FormatBatch(results []BatchResult, format string) (string, error) {
	switch format {
	case "text", "":
		var sb strings.Builder
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n")
			}
			if len(results) > 1 {
				fmt.Fprintf(&sb, "== %s ==\n", r.Path)
			}
			if r.Result == nil {
				fmt.Fprintf(&sb, "Error: %s\n", r.Error)
				continue
			}
			sb.WriteString(FormatVerifyResult(r.Result))
		}
		if len(results) > 1 {
			sb.WriteString("\n" + BatchSummary(results))
		}
		return sb.String(), nil
	case "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling JSON: %w", err)
		}
		return string(data) + "\n", nil
	case "cbom":
		bom := BuildCBOM(results)
		var buf bytes.Buffer
		if err := cdx.NewBOMEncoder(&buf, cdx.BOMFileFormatJSON).SetPretty(true).Encode(bom); err != nil {
			return "", fmt.Errorf("encoding CBOM: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use %s)", format, strings.Join(VerifyFormats, ", "))
	}
}
