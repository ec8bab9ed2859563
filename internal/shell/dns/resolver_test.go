package dns

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	coredns "github.com/R1ck404/mercel/internal/core/dns"
)

type stubLookup struct {
	cname string
	ips   []string
}

func (s stubLookup) LookupCNAME(context.Context, string) (string, error) {
	if s.cname == "" {
		return "", errors.New("no such host")
	}
	return s.cname, nil
}

func (s stubLookup) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	if len(s.ips) == 0 {
		return nil, errors.New("no such host")
	}
	var out []net.IPAddr
	for _, ip := range s.ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestResolve(t *testing.T) {
	r := &Resolver{resolver: stubLookup{cname: "edge.mercel.dev.", ips: []string{"203.0.113.7"}}}

	in := r.Resolve(context.Background(), "app.example.com")
	assert.Equal(t, []string{"edge.mercel.dev."}, in.CNAMERecords)
	assert.Len(t, in.ARecords, 1)
	assert.Empty(t, in.LookupError)

	empty := (&Resolver{resolver: stubLookup{}}).Resolve(context.Background(), "nx.example.com")
	assert.Equal(t, "no DNS records found for nx.example.com", empty.LookupError)
}

func TestChecker(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		lookup  stubLookup
		ips     []string
		cname   string
		wantErr bool
	}{
		{"a record matches", stubLookup{ips: []string{"203.0.113.7"}}, []string{"203.0.113.7"}, "", false},
		{"a record elsewhere", stubLookup{ips: []string{"198.51.100.1"}}, []string{"203.0.113.7"}, "", true},
		{"cname matches", stubLookup{cname: "Edge.Mercel.dev."}, nil, "edge.mercel.dev", false},
		{"nothing resolves", stubLookup{}, []string{"203.0.113.7"}, "", true},
		{"unconfigured skips", stubLookup{}, nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(&Resolver{resolver: tt.lookup}, tt.cname, tt.ips...)
			err := c.Check(ctx, "app.example.com")
			if tt.wantErr {
				assert.ErrorIs(t, err, coredns.ErrNotPointingHere)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
