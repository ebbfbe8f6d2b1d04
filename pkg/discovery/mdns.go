package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceTypeHTTP is the service controllers announce. It is the
	// generic HTTP service type, shared with printers and everything
	// else on the LAN; verification happens at the /info layer.
	ServiceTypeHTTP = "_http._tcp"

	// Domain is the mDNS domain to browse.
	Domain = "local."
)

// HTTPService is one aggregated _http._tcp announcement.
type HTTPService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the announced hostname.
	Host string

	// Port is the announced port.
	Port uint16

	// Addresses holds all known IP addresses, across interfaces.
	Addresses []string
}

// Addr returns the service's first address, preferring IPv4 ordering as
// announced. Empty when the announcement carried no addresses yet.
func (s *HTTPService) Addr() string {
	if len(s.Addresses) == 0 {
		return ""
	}
	return s.Addresses[0]
}

// Browser streams HTTP service announcements.
type Browser interface {
	// Browse streams announcements until ctx is cancelled. The channel
	// is closed when browsing ends.
	Browse(ctx context.Context) (<-chan *HTTPService, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// MDNSBrowser implements Browser using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	return &MDNSBrowser{config: config}
}

// Browse searches for HTTP services. Services are aggregated by instance
// name - addresses from multiple interfaces are combined into a single
// entry. A service is re-emitted when it gains addresses so consumers
// see late-resolving hosts.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *HTTPService, error) {
	out := make(chan *HTTPService)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	opts := b.browserOptions()

	// Process entries with aggregation
	go func() {
		defer close(out)

		// Track services by instance name, aggregating addresses
		var mu sync.Mutex
		services := make(map[string]*HTTPService)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToHTTPService(entry)
				if svc == nil {
					continue
				}

				mu.Lock()
				existing, found := services[svc.InstanceName]
				if found {
					before := len(existing.Addresses)
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					grew := len(existing.Addresses) > before
					mu.Unlock()
					if !grew {
						continue
					}
					select {
					case out <- existing:
					case <-ctx.Done():
						return
					}
					continue
				}
				services[svc.InstanceName] = svc
				mu.Unlock()
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				mu.Lock()
				if existing, found := services[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(services, entry.Instance)
					}
				}
				mu.Unlock()

			case <-ctx.Done():
				return
			}
		}
	}()

	// Start browsing in background
	go func() {
		_ = zeroconf.Browse(ctx, ServiceTypeHTTP, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}

// entryToHTTPService converts a zeroconf entry to HTTPService.
func entryToHTTPService(entry *zeroconf.ServiceEntry) *HTTPService {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &HTTPService{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    addrs,
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, new []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range new {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses removes addresses from a zeroconf entry from the list.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

// Ensure MDNSBrowser implements Browser.
var _ Browser = (*MDNSBrowser)(nil)
