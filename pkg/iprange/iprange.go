// Package iprange implements address range matching for client whitelists.
package iprange

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Range is an inclusive range of IP addresses. It parses from:
//   - a single address ("192.168.0.2", "2001:db8::1")
//   - a CIDR prefix ("192.168.0.0/24", "2001:db8::/64")
//   - an explicit range ("192.168.0.1-192.168.0.255"), both bounds included
//
// IPv4 addresses compare in their native form, not as IPv6-mapped.
type Range struct {
	from, to netip.Addr
}

func Parse(s string) (Range, error) {
	if from, to, ok := strings.Cut(s, "-"); ok {
		return parseBounds(from, to)
	}

	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
		}

		return Range{from: firstOf(prefix), to: lastOf(prefix)}, nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}

	return Range{from: addr, to: addr}, nil
}

func parseBounds(from, to string) (Range, error) {
	left, err := netip.ParseAddr(from)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range bound %q: %w", from, err)
	}

	right, err := netip.ParseAddr(to)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range bound %q: %w", to, err)
	}

	if left.Is4() != right.Is4() {
		return Range{}, fmt.Errorf("range bounds %q and %q are from different families", from, to)
	}
	if right.Less(left) {
		return Range{}, fmt.Errorf("range bound %q is below %q", to, from)
	}

	return Range{from: left, to: right}, nil
}

func firstOf(prefix netip.Prefix) netip.Addr {
	return prefix.Masked().Addr()
}

func lastOf(prefix netip.Prefix) netip.Addr {
	addr := prefix.Masked().Addr().AsSlice()
	for b := prefix.Bits(); b < len(addr)*8; b++ {
		addr[b/8] |= 1 << (7 - b%8)
	}

	last, _ := netip.AddrFromSlice(addr)
	return last
}

// Contains reports whether ip falls inside the range.
func (r Range) Contains(ip netip.Addr) bool {
	ip = ip.Unmap()
	return r.from.Compare(ip) <= 0 && ip.Compare(r.to) <= 0
}

// ContainsNetIP adapts Contains to the net.IP values the net package hands
// out.
func (r Range) ContainsNetIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}

	return r.Contains(addr)
}

// UnmarshalText implements encoding.TextUnmarshaler so Range works as a CLI
// flag type.
func (r *Range) UnmarshalText(in []byte) error {
	parsed, err := Parse(string(in))
	if err != nil {
		return err
	}

	*r = parsed
	return nil
}

func (r Range) String() string {
	if r.from == r.to {
		return r.from.String()
	}

	return r.from.String() + "-" + r.to.String()
}
