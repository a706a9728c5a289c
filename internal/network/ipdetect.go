package network

import (
	"fmt"
	"net"
	"regexp"
)

// Addresses holds the IPv4 addresses of the host.
type Addresses struct {
	Primary string   `json:"primary"`
	All     []string `json:"all"`
}

// DetectAddresses lists the non-loopback IPv4 addresses of every interface
// that is up. If preferPattern is non-empty, the first address matching it
// becomes Primary; otherwise the first address found does.
func DetectAddresses(preferPattern string) (*Addresses, error) {
	var re *regexp.Regexp
	if preferPattern != "" {
		var err error
		re, err = regexp.Compile(preferPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid address pattern %q: %w", preferPattern, err)
		}
	}

	all, err := detectIPv4Addresses()
	if err != nil {
		return nil, fmt.Errorf("failed to detect addresses: %w", err)
	}

	info := &Addresses{All: all}
	if info.All == nil {
		info.All = []string{}
	}
	if len(all) > 0 {
		info.Primary = all[0]
	}
	if re != nil {
		for _, ip := range all {
			if re.MatchString(ip) {
				info.Primary = ip
				break
			}
		}
	}
	return info, nil
}

func detectIPv4Addresses() ([]string, error) {
	var ips []string

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ip := ipv4(addr); ip != "" {
				ips = append(ips, ip)
			}
		}
	}

	return ips, nil
}

func ipv4(addr net.Addr) string {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip == nil || ip.IsLoopback() || ip.To4() == nil {
		return ""
	}
	return ip.String()
}
