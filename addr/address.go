// Package addr provides the Address value type and the IPv4 helpers the
// routing index and dispatcher use to match packets against routes: dotted
// string <-> u32 conversion, subnet membership, and local NIC discovery.
package addr

import (
	"net"
	"strconv"
	"strings"
)

// Address is an (ip, port) pair. IP is lower-cased and trimmed; an empty IP
// means "any/unspecified" -- a UDP Listener with an empty source IP binds all
// local IPv4 interfaces, and a RouteDestination with an empty IP inherits the
// source address of the packet being routed.
type Address struct {
	IP   string
	Port uint16
}

// New normalizes ip (trim + lower-case) and returns an Address.
func New(ip string, port uint16) Address {
	return Address{IP: strings.ToLower(strings.TrimSpace(ip)), Port: port}
}

// IsUnspecified reports whether the address has no IP set.
func (a Address) IsUnspecified() bool {
	return a.IP == ""
}

// Less provides the total order by (ip, port) the data model requires for
// route-set deduplication and deterministic iteration.
func (a Address) Less(other Address) bool {
	if a.IP != other.IP {
		return a.IP < other.IP
	}
	return a.Port < other.Port
}

// String renders "ip:port", using "*" for an unspecified IP.
func (a Address) String() string {
	ip := a.IP
	if ip == "" {
		ip = "*"
	}
	return ip + ":" + strconv.Itoa(int(a.Port))
}

// ToUint32 converts a dotted IPv4 string to its big-endian u32 representation.
// Returns 0, false for anything that doesn't parse as IPv4.
func ToUint32(ip string) (uint32, bool) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return 0, false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}

// FromUint32 renders a big-endian u32 as a dotted IPv4 string.
func FromUint32(v uint32) string {
	ip := net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	return ip.String()
}

// NIC describes a local IPv4 interface the Routing Index binds listeners to.
type NIC struct {
	Name string
	IP   string
	Mask net.IPMask
}

// Contains reports whether ip falls within the NIC's subnet.
func (n NIC) Contains(ip string) bool {
	target := net.ParseIP(ip)
	if target == nil {
		return false
	}
	target = target.To4()
	if target == nil {
		return false
	}
	self := net.ParseIP(n.IP).To4()
	if self == nil || len(n.Mask) == 0 {
		return false
	}
	network := self.Mask(n.Mask)
	candidate := target.Mask(n.Mask)
	return network.Equal(candidate)
}

// LocalIPv4NICs enumerates the machine's up, non-loopback IPv4 interfaces.
// The Routing Index calls this once per Supervisor.Start to decide which
// local addresses a route with an empty/matching source IP should bind.
func LocalIPv4NICs() ([]NIC, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var nics []NIC
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}
			nics = append(nics, NIC{Name: iface.Name, IP: v4.String(), Mask: ipNet.Mask})
		}
	}
	return nics, nil
}

// MatchesSource reports whether a route's source IP (empty, exact, or a
// local NIC's subnet) accepts a packet arriving from srcIP.
func MatchesSource(routeSrcIP, packetSrcIP string, nics []NIC) bool {
	if routeSrcIP == "" {
		return true
	}
	if routeSrcIP == packetSrcIP {
		return true
	}
	for _, n := range nics {
		if n.IP == routeSrcIP && n.Contains(packetSrcIP) {
			return true
		}
	}
	return false
}
