package middleware

import (
	"log/slog"
	"net"
	"net/netip"
)

// prefixes is a parsed CIDR list.
type prefixes []netip.Prefix

// parsePrefixes parses cidrs. Bare addresses are taken as single-host
// prefixes; unparsable entries are logged and dropped.
func parsePrefixes(cidrs []string, l *slog.Logger) prefixes {
	var out prefixes
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			addr, aerr := netip.ParseAddr(cidr)
			if aerr != nil {
				l.Warn("ignoring invalid CIDR",
					slog.String("cidr", cidr),
					slog.String("error", err.Error()),
				)
				continue
			}
			addr = addr.Unmap()
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		out = append(out, p.Masked())
	}
	return out
}

func (ps prefixes) contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range ps {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// peerAddr splits the host out of r.RemoteAddr. addr is invalid when the host
// is not an IP.
func peerAddr(remoteAddr string) (host string, addr netip.Addr) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, _ = netip.ParseAddr(host)
	return host, addr.Unmap()
}
