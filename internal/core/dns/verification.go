// Package dns contains pure functions for checking that a custom domain
// resolves to this server before a binding is requested.
package dns

import (
	"errors"
	"net"
	"regexp"
	"slices"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidHostname     = errors.New("invalid hostname format")
	ErrHostnameTooLong     = errors.New("hostname must be under 253 characters")
	ErrDomainAlreadyExists = errors.New("domain is already bound to this project")
	ErrMaxDomainsReached   = errors.New("maximum number of domains reached")
	ErrNotPointingHere     = errors.New("domain does not resolve to this server")
)

// MaxDomains bounds the domains one project may bind.
const MaxDomains = 5

// =============================================================================
// Validation
// =============================================================================

var hostnameRegex = regexp.MustCompile(`^([a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

// NormalizeHostname lowercases and trims hostname.
func NormalizeHostname(hostname string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
}

// ValidateHostname checks hostname is a fully-qualified DNS name.
func ValidateHostname(hostname string) error {
	hostname = NormalizeHostname(hostname)
	if hostname == "" {
		return ErrInvalidHostname
	}
	if len(hostname) > 253 {
		return ErrHostnameTooLong
	}
	if !hostnameRegex.MatchString(hostname) {
		return ErrInvalidHostname
	}
	return nil
}

// CanAddDomain checks hostname against the domains a project already has.
func CanAddDomain(existing []string, hostname string) error {
	hostname = NormalizeHostname(hostname)
	if slices.ContainsFunc(existing, func(d string) bool { return strings.EqualFold(d, hostname) }) {
		return ErrDomainAlreadyExists
	}
	if len(existing) >= MaxDomains {
		return ErrMaxDomainsReached
	}
	return nil
}

// =============================================================================
// Verification
// =============================================================================

// Method names the record type that satisfied verification.
type Method string

const (
	MethodNone  Method = ""
	MethodA     Method = "a_record"
	MethodCNAME Method = "cname"
)

// VerificationInput contains DNS lookup results gathered by the shell layer.
type VerificationInput struct {
	Hostname     string
	CNAMERecords []string
	ARecords     []net.IP
	LookupError  string
}

// VerificationResult is the outcome of Verify.
type VerificationResult struct {
	Verified bool
	Method   Method
	Error    string
}

// Err converts a failed result into an error wrapping ErrNotPointingHere.
func (r VerificationResult) Err() error {
	if r.Verified {
		return nil
	}
	return errors.Join(ErrNotPointingHere, errors.New(r.Error))
}

// Verify checks that the looked-up records point at one of serverIPs, or at
// canonicalHost by CNAME when one is configured.
func Verify(input VerificationInput, canonicalHost string, serverIPs []string) VerificationResult {
	if input.LookupError != "" {
		return VerificationResult{Error: "DNS lookup failed: " + input.LookupError}
	}

	if canonicalHost != "" {
		for _, cname := range input.CNAMERecords {
			if strings.EqualFold(strings.TrimSuffix(cname, "."), canonicalHost) {
				return VerificationResult{Verified: true, Method: MethodCNAME}
			}
		}
	}

	for _, a := range input.ARecords {
		for _, want := range serverIPs {
			if ip := net.ParseIP(want); ip != nil && ip.Equal(a) {
				return VerificationResult{Verified: true, Method: MethodA}
			}
		}
	}

	return VerificationResult{Error: "DNS records for " + input.Hostname + " do not point to this server"}
}
