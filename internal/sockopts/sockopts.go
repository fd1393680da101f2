// Package sockopts resolves the cast address and configures the socket
// options needed to join a multicast group or enable broadcast, mirroring
// the rules the teacher's internal/transport/udp.go applies when wrapping a
// net.PacketConn with golang.org/x/net/ipv4, generalized to also cover
// IPv6 multicast, source-specific joins, and broadcast mode.
package sockopts

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// CastMode selects between joining a multicast group and enabling
// broadcast on the socket.
type CastMode int

const (
	CastMulticast CastMode = iota
	CastBroadcast
)

// ReusePolicy controls which address-reuse socket options are applied
// before bind.
type ReusePolicy int

const (
	ReuseNone ReusePolicy = iota
	ReuseAddrOnly
	ReuseAddrPort
)

// IPv4Broadcast is substituted for the remote address when CastMode is
// CastBroadcast and no remote address was given.
const IPv4Broadcast = "255.255.255.255"

// Config is the caller-supplied addressing and option configuration.
type Config struct {
	RemoteHost    string
	Port          int
	BindAddress   string // optional; empty means wildcard of the cast family
	SourceAddress string // optional; source-specific multicast join

	CastMode      CastMode
	MulticastTTL  int // 0-255
	MulticastLoop bool
	ReusePolicy   ReusePolicy
}

// Resolved carries the addresses derived from a Config, ready to bind and
// configure a socket with.
type Resolved struct {
	CastAddr   *net.UDPAddr
	BindAddr   *net.UDPAddr
	SourceAddr *net.UDPAddr
}

// Resolve applies the addressing rules: broadcast substitution, family
// matching, and wildcard-bind defaulting. It does not touch the network.
func Resolve(cfg Config) (*Resolved, error) {
	remote := cfg.RemoteHost
	if cfg.CastMode == CastBroadcast && remote == "" {
		remote = IPv4Broadcast
	}

	castAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remote, portString(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve cast address %q: %w", remote, err)
	}

	if cfg.CastMode == CastBroadcast && castAddr.IP.To4() == nil {
		return nil, fmt.Errorf("broadcast is not supported on IPv6: protocol not supported")
	}

	var bindIP net.IP
	if cfg.BindAddress != "" {
		bindAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.BindAddress, portString(cfg.Port)))
		if err != nil {
			return nil, fmt.Errorf("resolve bind address %q: %w", cfg.BindAddress, err)
		}
		if isIPv4(bindAddr.IP) != isIPv4(castAddr.IP) {
			return nil, fmt.Errorf("bind address family does not match cast address family: address family not supported")
		}
		bindIP = bindAddr.IP
	} else {
		bindIP = wildcardFor(castAddr.IP)
	}

	resolved := &Resolved{
		CastAddr: castAddr,
		BindAddr: &net.UDPAddr{IP: bindIP, Port: cfg.Port},
	}

	if cfg.SourceAddress != "" {
		srcAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.SourceAddress, "0"))
		if err != nil {
			return nil, fmt.Errorf("resolve source address %q: %w", cfg.SourceAddress, err)
		}
		resolved.SourceAddr = srcAddr
	}

	return resolved, nil
}

// Configure joins the multicast group (source-specific if a source address
// was supplied) or enables broadcast, and applies TTL/loopback, on top of
// an already-bound conn. iface, when non-nil, restricts the join to that
// interface.
func Configure(conn *net.UDPConn, resolved *Resolved, cfg Config, iface *net.Interface) error {
	if cfg.CastMode == CastBroadcast {
		rc, err := conn.SyscallConn()
		if err != nil {
			return fmt.Errorf("syscall conn: %w", err)
		}
		return applyOnRawConn(rc, setBroadcast)
	}

	if isIPv4(resolved.CastAddr.IP) {
		p := ipv4.NewPacketConn(conn)
		if err := p.SetMulticastTTL(clampTTL(cfg.MulticastTTL)); err != nil {
			return fmt.Errorf("set multicast ttl: %w", err)
		}
		if err := p.SetMulticastLoopback(cfg.MulticastLoop); err != nil {
			return fmt.Errorf("set multicast loopback: %w", err)
		}
		group := &net.UDPAddr{IP: resolved.CastAddr.IP}
		if resolved.SourceAddr != nil {
			source := &net.UDPAddr{IP: resolved.SourceAddr.IP}
			if err := p.JoinSourceSpecificGroup(iface, group, source); err != nil {
				return fmt.Errorf("join source-specific multicast group: %w", err)
			}
			return nil
		}
		if err := p.JoinGroup(iface, group); err != nil {
			return fmt.Errorf("join multicast group: %w", err)
		}
		return nil
	}

	p := ipv6.NewPacketConn(conn)
	if err := p.SetMulticastHopLimit(clampTTL(cfg.MulticastTTL)); err != nil {
		return fmt.Errorf("set multicast hop limit: %w", err)
	}
	if err := p.SetMulticastLoopback(cfg.MulticastLoop); err != nil {
		return fmt.Errorf("set multicast loopback: %w", err)
	}
	group := &net.UDPAddr{IP: resolved.CastAddr.IP}
	if resolved.SourceAddr != nil {
		source := &net.UDPAddr{IP: resolved.SourceAddr.IP}
		if err := p.JoinSourceSpecificGroup(iface, group, source); err != nil {
			return fmt.Errorf("join source-specific multicast group: %w", err)
		}
		return nil
	}
	if err := p.JoinGroup(iface, group); err != nil {
		return fmt.Errorf("join multicast group: %w", err)
	}
	return nil
}

func clampTTL(ttl int) int {
	if ttl < 0 {
		return 0
	}
	if ttl > 255 {
		return 255
	}
	return ttl
}

func isIPv4(ip net.IP) bool { return ip.To4() != nil }

func wildcardFor(ip net.IP) net.IP {
	if isIPv4(ip) {
		return net.IPv4zero
	}
	return net.IPv6unspecified
}

func portString(port int) string {
	return fmt.Sprintf("%d", port)
}
