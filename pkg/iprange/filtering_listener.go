package iprange

import "net"

// FilterListener wraps l so connections from peers outside every allowed
// range are dropped right after accept. An empty allow list rejects nothing.
func FilterListener(l net.Listener, allowed []Range) net.Listener {
	if len(allowed) == 0 {
		return l
	}

	return &filteringListener{Listener: l, allowed: allowed}
}

type filteringListener struct {
	net.Listener

	allowed []Range
}

func (l *filteringListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return conn, err
		}

		if !l.allowedPeer(conn.RemoteAddr()) {
			_ = conn.Close()
			continue
		}

		return conn, nil
	}
}

func (l *filteringListener) allowedPeer(addr net.Addr) bool {
	var ip net.IP
	switch peer := addr.(type) {
	case *net.TCPAddr:
		ip = peer.IP
	case *net.IPAddr:
		ip = peer.IP
	default:
		// non-IP transport, nothing to filter on
		return true
	}

	for _, r := range l.allowed {
		if r.ContainsNetIP(ip) {
			return true
		}
	}

	return false
}
