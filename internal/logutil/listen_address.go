package logutil

import (
	"log/slog"
	"net"
	"strconv"
)

// ListenAddressValue prints an address suitable for connecting to.
// For a wildcard bind like "0.0.0.0:22180" it lists the non-loopback
// interface addresses with the bound port instead.
func ListenAddressValue(addr net.Addr) slog.Value {
	return slog.AnyValue(&listenAddress{addr})
}

type listenAddress struct {
	addr net.Addr
}

func (la *listenAddress) LogValue() slog.Value {
	return slog.AnyValue(addrToLog(la.addr))
}

func addrToLog(addr net.Addr) []string {
	tcpAddr, isTCPAddr := addr.(*net.TCPAddr)
	if !isTCPAddr {
		return []string{addr.String()}
	}

	isV4Any := tcpAddr.IP.Equal(net.IPv4zero)
	isV6Any := tcpAddr.IP.Equal(net.IPv6unspecified)
	if !isV4Any && !isV6Any {
		return []string{addr.String()}
	}

	ifaddrs, err := net.InterfaceAddrs()
	if err != nil {
		return []string{addr.String()}
	}

	ret := make([]string, 0, len(ifaddrs))
	for _, ifaddr := range ifaddrs {
		ipNet, isIPNet := ifaddr.(*net.IPNet)
		if !isIPNet || ipNet.IP.IsLoopback() {
			continue
		}

		// skip v6 addresses for a v4 wildcard bind
		if isV4Any && ipNet.IP.To4() == nil {
			continue
		}

		ret = append(ret, net.JoinHostPort(ipNet.IP.String(), strconv.Itoa(tcpAddr.Port)))
	}

	if len(ret) == 0 {
		return []string{addr.String()}
	}

	return ret
}
