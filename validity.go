package pfxkit

import (
	"crypto/x509"
	"fmt"
	"math"
	"time"
)

// DefaultExpiryWarning is the window before NotAfter in which CheckValidity
// adds an expiry warning.
const DefaultExpiryWarning = 30 * 24 * time.Hour

const day = 24 * time.Hour

// ValidityReport describes a certificate's validity at one instant.
type ValidityReport struct {
	Valid       bool `json:"valid"`
	Expired     bool `json:"expired"`
	NotYetValid bool `json:"not_yet_valid"`
	// DaysUntilExpiry is rounded up, so a certificate expiring in a few hours
	// reports 1. It is 0 unless the certificate is currently valid.
	DaysUntilExpiry   int      `json:"days_until_expiry"`
	Subject           string   `json:"subject"`
	Issuer            string   `json:"issuer"`
	SerialNumber      string   `json:"serial_number"`
	NotBefore         string   `json:"not_before"`
	NotAfter          string   `json:"not_after"`
	FingerprintSHA256 string   `json:"fingerprint_sha256"`
	Warnings          []string `json:"warnings,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

// CheckValidity reports whether cert is valid at now and warns when it
// expires within warnWithin. A zero warnWithin disables the warning.
func CheckValidity(cert *x509.Certificate, now time.Time, warnWithin time.Duration) *ValidityReport {
	r := &ValidityReport{
		Subject:           cert.Subject.String(),
		Issuer:            cert.Issuer.String(),
		NotBefore:         cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:          cert.NotAfter.UTC().Format(time.RFC3339),
		FingerprintSHA256: CertFingerprintColonSHA256(cert),
	}
	if cert.SerialNumber != nil {
		r.SerialNumber = cert.SerialNumber.Text(16)
	}

	switch {
	case now.Before(cert.NotBefore):
		r.NotYetValid = true
		r.Errors = append(r.Errors, "certificate is not yet valid")
	case now.After(cert.NotAfter):
		r.Expired = true
		r.Errors = append(r.Errors, "certificate has expired")
	default:
		r.DaysUntilExpiry = int(math.Ceil(float64(cert.NotAfter.Sub(now)) / float64(day)))
		if warnWithin > 0 && r.DaysUntilExpiry <= int(math.Ceil(float64(warnWithin)/float64(day))) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("certificate expires in %d days (not after: %s)",
				r.DaysUntilExpiry, cert.NotAfter.UTC().Format(time.DateOnly)))
		}
	}
	r.Valid = len(r.Errors) == 0
	return r
}
