package colly

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// DefaultDNSServers are queried in order until one answers.
var DefaultDNSServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// MXVerifier reports whether a mail domain can receive mail.
type MXVerifier interface {
	HasMX(ctx context.Context, domain string) bool
}

// DNSVerifier looks up MX records with miekg/dns and caches answers per domain.
type DNSVerifier struct {
	servers []string
	client  *dns.Client
	mu      sync.Mutex
	cache   map[string]bool
}

// NewDNSVerifier queries servers (host:port). Empty servers use DefaultDNSServers.
func NewDNSVerifier(servers []string, timeout time.Duration) *DNSVerifier {
	if len(servers) == 0 {
		servers = DefaultDNSServers
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DNSVerifier{
		servers: append([]string(nil), servers...),
		client:  &dns.Client{Timeout: timeout},
		cache:   make(map[string]bool),
	}
}

// HasMX returns true when any server answers with at least one MX record.
// Lookup failures count as no MX and are not cached.
func (v *DNSVerifier) HasMX(ctx context.Context, domain string) bool {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return false
	}
	v.mu.Lock()
	known, ok := v.cache[domain]
	v.mu.Unlock()
	if ok {
		return known
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true
	for _, server := range v.servers {
		resp, _, err := v.client.ExchangeContext(ctx, msg, server)
		if err != nil || resp == nil {
			continue
		}
		found := false
		if resp.Rcode == dns.RcodeSuccess {
			for _, rr := range resp.Answer {
				if _, isMX := rr.(*dns.MX); isMX {
					found = true
					break
				}
			}
		}
		if resp.Rcode == dns.RcodeSuccess || resp.Rcode == dns.RcodeNameError {
			v.mu.Lock()
			v.cache[domain] = found
			v.mu.Unlock()
			return found
		}
	}
	return false
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return email[at+1:]
}
