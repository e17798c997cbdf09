// Package probe implements the Network Probe (spec §4.2): discovery of the
// node's externally reachable address via STUN and HTTP lookups, with an
// IPv4/IPv6 preference and a short-TTL result cache.
package probe

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/nat"
	"github.com/pion/stun"
	"github.com/pkg/errors"
	"github.com/sorchaledger/sorcha/cache"
)

var logger = log.New("pkg", "probe")

// Family is the address family preference.
type Family int

const (
	PreferIPv4 Family = iota
	PreferIPv6
)

// Options configures a Prober.
type Options struct {
	STUNServers    []string // e.g. "stun.l.google.com:19302"
	HTTPEndpoints  []string // plain-text-IP lookup services
	Preferred      Family
	NATMechanism   string // "any", "upnp", "pmp", "extip:<IP>", "none"/"" to skip
	ConfiguredAddr string // operator-configured external address fallback
	CacheTTL       time.Duration
	DialTimeout    time.Duration
}

// Prober discovers the node's externally reachable address (spec §4.2).
type Prober struct {
	opts  Options
	cache *cache.LRU
}

const cacheKey = "external-addr"

// New creates a Prober from opts, defaulting CacheTTL and DialTimeout if unset.
func New(opts Options) *Prober {
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &Prober{opts: opts, cache: cache.NewLRU(16)}
}

type cachedResult struct {
	addr      string
	expiresAt time.Time
}

// Discover returns the first successful STUN/HTTP lookup result, the
// configured external address if all lookups fail, or the node's primary
// non-loopback interface address as a last resort (spec §4.2). Results
// are cached for CacheTTL.
func (p *Prober) Discover(ctx context.Context) (string, error) {
	if v, ok := p.cache.Get(cacheKey); ok {
		cr := v.(cachedResult)
		if time.Now().Before(cr.expiresAt) {
			return cr.addr, nil
		}
	}

	addr, err := p.discoverUncached(ctx)
	if err != nil {
		return "", err
	}
	p.cache.Add(cacheKey, cachedResult{addr: addr, expiresAt: time.Now().Add(p.opts.CacheTTL)})
	return addr, nil
}

func (p *Prober) discoverUncached(ctx context.Context) (string, error) {
	for _, server := range p.opts.STUNServers {
		addr, err := p.queryStun(ctx, server)
		if err == nil {
			return addr, nil
		}
		logger.Warn("probe: stun lookup failed", "server", server, "err", err)
	}

	for _, endpoint := range p.opts.HTTPEndpoints {
		addr, err := p.queryHTTP(ctx, endpoint)
		if err == nil {
			return addr, nil
		}
		logger.Warn("probe: http lookup failed", "endpoint", endpoint, "err", err)
	}

	if p.opts.NATMechanism != "" {
		addr, err := p.queryNAT()
		if err == nil {
			return addr, nil
		}
		logger.Warn("probe: nat lookup failed", "mechanism", p.opts.NATMechanism, "err", err)
	}

	if p.opts.ConfiguredAddr != "" {
		logger.Warn("probe: all discovery methods failed, using configured address")
		return p.opts.ConfiguredAddr, nil
	}

	addr, err := p.localNonLoopback()
	if err != nil {
		return "", errors.Wrap(err, "probe: no discovery method succeeded and no local address available")
	}
	logger.Warn("probe: all discovery methods failed, using local interface address", "addr", addr)
	return addr, nil
}

func (p *Prober) queryStun(ctx context.Context, server string) (string, error) {
	c, err := stun.Dial("udp", server)
	if err != nil {
		return "", err
	}
	defer c.Close()

	deadline := time.Now().Add(p.opts.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	result := make(chan string, 1)
	errCh := make(chan error, 1)

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if err := c.Do(msg, func(res stun.Event) {
		if res.Error != nil {
			errCh <- res.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			errCh <- err
			return
		}
		result <- xorAddr.IP.String()
	}); err != nil {
		return "", err
	}

	select {
	case addr := <-result:
		return addr, nil
	case err := <-errCh:
		return "", err
	case <-time.After(time.Until(deadline)):
		return "", errors.New("probe: stun request timed out")
	}
}

func (p *Prober) queryHTTP(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: p.opts.DialTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	addr := strings.TrimSpace(string(buf[:n]))
	if net.ParseIP(addr) == nil {
		return "", errors.Errorf("probe: endpoint %s returned non-IP text", endpoint)
	}
	return addr, nil
}

// queryNAT asks the configured NAT traversal mechanism (UPnP or NAT-PMP, via
// go-ethereum's nat package) for this host's router-assigned external
// address; it does not attempt any port mapping itself since the Connection
// Pool dials out rather than accepting inbound connections.
func (p *Prober) queryNAT() (string, error) {
	natm, err := nat.Parse(p.opts.NATMechanism)
	if err != nil {
		return "", errors.Wrap(err, "probe: parse nat mechanism")
	}
	if natm == nil {
		return "", errors.New("probe: no nat mechanism configured")
	}
	ip, err := natm.ExternalIP()
	if err != nil {
		return "", errors.Wrap(err, "probe: nat external ip lookup failed")
	}
	return ip.String(), nil
}

func (p *Prober) localNonLoopback() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	var v4, v6 string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			if v4 == "" {
				v4 = ip4.String()
			}
		} else if v6 == "" {
			v6 = ipnet.IP.String()
		}
	}
	if p.opts.Preferred == PreferIPv6 && v6 != "" {
		return v6, nil
	}
	if v4 != "" {
		return v4, nil
	}
	if v6 != "" {
		return v6, nil
	}
	return "", errors.New("probe: no non-loopback interface address found")
}
