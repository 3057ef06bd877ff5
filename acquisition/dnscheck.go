package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/miekg/dns"
)

const authoritativeCheckTimeout = 30 * time.Second

// txtChecker confirms a DNS-01 TXT record is visible on every authoritative
// nameserver of its zone before the CA is told to validate. CAs resolve from
// multiple vantage points, so a record served by one nameserver but not its
// siblings still fails validation.
type txtChecker struct {
	log *slog.Logger

	// resolverAddr overrides the recursive resolver, host:port. Empty means
	// the first server from /etc/resolv.conf.
	resolverAddr string

	// findZone and exchange are swapped in tests.
	findZone func(fqdn string) (string, error)
	exchange func(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, error)
}

func newTXTChecker(log *slog.Logger) *txtChecker {
	c := &txtChecker{log: log}
	c.findZone = dns01.FindZoneByFqdn
	c.exchange = func(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, error) {
		client := new(dns.Client)
		resp, _, err := client.ExchangeContext(ctx, m, addr)
		return resp, err
	}
	return c
}

// wrap plugs into dns01.WrapPreCheck. It runs lego's own pre-check first,
// then requires the record on each authoritative nameserver. Failures report
// "not yet propagated" so lego keeps polling until its propagation budget
// runs out.
func (c *txtChecker) wrap(domain, fqdn, value string, check dns01.PreCheckFunc) (bool, error) {
	ok, err := check(fqdn, value)
	if !ok || err != nil {
		return ok, err
	}
	return c.visibleOnAuthoritatives(context.Background(), fqdn, value), nil
}

func (c *txtChecker) visibleOnAuthoritatives(ctx context.Context, fqdn, value string) bool {
	ctx, cancel := context.WithTimeout(ctx, authoritativeCheckTimeout)
	defer cancel()

	servers, err := c.authoritativeServers(ctx, fqdn)
	if err != nil {
		c.log.Debug("Authoritative nameserver discovery failed",
			slog.String("fqdn", fqdn), "err", err)
		return false
	}
	if len(servers) == 0 {
		return false
	}

	for _, server := range servers {
		found, err := c.hasTXTValue(ctx, server, fqdn, value)
		if err != nil {
			c.log.Debug("TXT query failed", slog.String("server", server), "err", err)
			return false
		}
		if !found {
			c.log.Debug("TXT record not yet visible",
				slog.String("server", server), slog.String("fqdn", fqdn))
			return false
		}
	}
	return true
}

// authoritativeServers resolves the zone apex for fqdn and returns the
// addresses of its NS records.
func (c *txtChecker) authoritativeServers(ctx context.Context, fqdn string) ([]string, error) {
	zone, err := c.findZone(fqdn)
	if err != nil {
		return nil, fmt.Errorf("finding zone for %s: %w", fqdn, err)
	}

	resolver, err := c.recursiveResolver()
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{Name: dns.Fqdn(zone), Qtype: dns.TypeNS, Qclass: dns.ClassINET}}

	resp, err := c.exchange(ctx, m, resolver)
	if err != nil {
		return nil, err
	}

	servers := make([]string, 0, len(resp.Answer))
	for _, answer := range resp.Answer {
		if ns, ok := answer.(*dns.NS); ok {
			servers = append(servers, net.JoinHostPort(strings.TrimSuffix(ns.Ns, "."), "53"))
		}
	}
	return servers, nil
}

func (c *txtChecker) hasTXTValue(ctx context.Context, server, fqdn, value string) (bool, error) {
	m := new(dns.Msg)
	m.Id = dns.Id()
	// Authoritative servers answer for their own zones, recursion stays off.
	m.RecursionDesired = false
	m.Question = []dns.Question{{Name: dns.Fqdn(fqdn), Qtype: dns.TypeTXT, Qclass: dns.ClassINET}}

	resp, err := c.exchange(ctx, m, server)
	if err != nil {
		return false, err
	}

	for _, answer := range resp.Answer {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}
		for _, record := range txt.Txt {
			if record == value {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *txtChecker) recursiveResolver() (string, error) {
	if c.resolverAddr != "" {
		return c.resolverAddr, nil
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", fmt.Errorf("loading resolver config: %w", err)
	}
	if len(conf.Servers) == 0 {
		return "", errors.New("no recursive resolvers configured")
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}
