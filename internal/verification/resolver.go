package verification

import (
	"context"
	"errors"
	"net"
	"time"
)

// TXTResolver looks up TXT records. Split out so tests and the post-cutover
// verifier can inject fakes.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// ErrNXDomain reports that the name does not exist. Callers treat this as
// "record not published yet", never as a resolver failure.
var ErrNXDomain = errors.New("nxdomain")

// NetResolver queries the system resolver with a per-attempt timeout.
type NetResolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

func NewNetResolver(timeout time.Duration) *NetResolver {
	return &NetResolver{resolver: net.DefaultResolver, timeout: timeout}
}

func (r *NetResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	values, err := r.resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, ErrNXDomain
		}
		return nil, err
	}
	return values, nil
}
