// Package dns provides DNS resolution for domain verification.
// This is part of the Imperative Shell - handles I/O (DNS lookups).
package dns

import (
	"context"
	"net"

	coredns "github.com/R1ck404/mercel/internal/core/dns"
)

// lookuper is the subset of *net.Resolver used here.
type lookuper interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Resolver performs DNS lookups for domain verification.
type Resolver struct {
	resolver lookuper
}

// NewResolver creates a new DNS resolver.
func NewResolver() *Resolver {
	return &Resolver{
		resolver: net.DefaultResolver,
	}
}

// Resolve performs DNS lookups for the given hostname and returns a VerificationInput
// that can be passed to the pure verification function.
func (r *Resolver) Resolve(ctx context.Context, hostname string) coredns.VerificationInput {
	input := coredns.VerificationInput{
		Hostname: hostname,
	}

	cname, err := r.resolver.LookupCNAME(ctx, hostname)
	if err == nil && cname != "" {
		input.CNAMERecords = []string{cname}
	}

	ips, err := r.resolver.LookupIPAddr(ctx, hostname)
	if err == nil {
		for _, ip := range ips {
			input.ARecords = append(input.ARecords, ip.IP)
		}
	}

	// If both lookups failed, record the error
	if len(input.CNAMERecords) == 0 && len(input.ARecords) == 0 {
		input.LookupError = "no DNS records found for " + hostname
	}

	return input
}

// Checker confirms that a hostname points at this server before a binding is
// requested for it.
type Checker struct {
	resolver      *Resolver
	canonicalHost string
	serverIPs     []string
}

// NewChecker creates a Checker. With neither a canonical host nor server IPs
// configured every hostname passes.
func NewChecker(r *Resolver, canonicalHost string, serverIPs ...string) *Checker {
	if r == nil {
		r = NewResolver()
	}
	return &Checker{resolver: r, canonicalHost: canonicalHost, serverIPs: serverIPs}
}

// Check returns nil when hostname resolves to this server.
func (c *Checker) Check(ctx context.Context, hostname string) error {
	if c.canonicalHost == "" && len(c.serverIPs) == 0 {
		return nil
	}
	input := c.resolver.Resolve(ctx, hostname)
	return coredns.Verify(input, c.canonicalHost, c.serverIPs).Err()
}
