package fleet

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// TLSListenConfig wraps the mTLS server configuration plus the SVID source
// it must keep alive for the lifetime of the listener.
type TLSListenConfig struct {
	Config *tls.Config
	source *workloadapi.X509Source
}

// Close releases the workload API source.
func (c *TLSListenConfig) Close() error {
	return c.source.Close()
}

// StationMTLS builds a TLS config that requires connecting flashing
// stations to present an X.509 SVID inside trustDomain, obtained from the
// SPIRE agent at socketPath. Stations authenticate with workload identity
// instead of a shared secret.
func StationMTLS(socketPath, trustDomain string) (*TLSListenConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("fleet: connect to SPIRE agent: %w", err)
	}

	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("fleet: invalid trust domain: %w", err)
	}

	slog.Info("station mTLS enabled", "socket_path", socketPath, "trust_domain", trustDomain)
	return &TLSListenConfig{
		Config: tlsconfig.MTLSServerConfig(source, source, tlsconfig.AuthorizeMemberOf(td)),
		source: source,
	}, nil
}
