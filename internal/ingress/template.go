// Package ingress builds and applies the security group ingress rules that
// scope management access to the operator's current address.
package ingress

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidAddress is returned when the caller address cannot be parsed.
var ErrInvalidAddress = errors.New("invalid caller address")

// Published Cloudflare IPv4 ranges. Web ports accept traffic from these so the
// reverse proxy keeps working while management ports stay caller-only.
var cloudflareIPv4 = []string{
	"173.245.48.0/20",
	"103.21.244.0/22",
	"103.22.200.0/22",
	"103.31.4.0/22",
	"141.101.64.0/18",
	"108.162.192.0/18",
	"190.93.240.0/20",
	"188.114.96.0/20",
	"197.234.240.0/22",
	"198.41.128.0/17",
	"162.158.0.0/15",
	"104.16.0.0/13",
	"104.24.0.0/14",
	"172.64.0.0/13",
	"131.0.72.0/22",
}

// Uptime monitor probing the web ports.
const monitorCIDR = "198.51.100.24/32"

// Permission is one provider-neutral ingress rule.
type Permission struct {
	Protocol string
	FromPort int32
	ToPort   int32
	CIDRs    []string
}

// Template describes the ingress rules written on power-on.
type Template struct {
	ManagementPorts []int32
	WebPorts        []int32
	ProxyCIDRs      []string
	ExtraCIDRs      []string
}

// DefaultTemplate returns the built-in rule template.
func DefaultTemplate() Template {
	return Template{
		ManagementPorts: []int32{22, 3000},
		WebPorts:        []int32{80, 443},
		ProxyCIDRs:      append([]string(nil), cloudflareIPv4...),
		ExtraCIDRs:      []string{monitorCIDR},
	}
}

// Permissions returns the rules for callerAddress. It performs no I/O.
func (t Template) Permissions(callerAddress string) ([]Permission, error) {
	caller, err := CallerCIDR(callerAddress)
	if err != nil {
		return nil, err
	}

	perms := make([]Permission, 0, len(t.ManagementPorts)+len(t.WebPorts))
	for _, port := range t.ManagementPorts {
		perms = append(perms, tcp(port, caller))
	}

	web := make([]string, 0, 1+len(t.ProxyCIDRs)+len(t.ExtraCIDRs))
	web = append(web, caller)
	web = append(web, t.ProxyCIDRs...)
	web = append(web, t.ExtraCIDRs...)
	for _, port := range t.WebPorts {
		perms = append(perms, tcp(port, web...))
	}

	return perms, nil
}

// CallerCIDR converts an address to a single-host CIDR. Input already in
// prefix form is returned normalised.
func CallerCIDR(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if strings.Contains(address, "/") {
		prefix, err := netip.ParsePrefix(address)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidAddress, address)
		}
		return prefix.Masked().String(), nil
	}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()).String(), nil
}

func tcp(port int32, cidrs ...string) Permission {
	return Permission{
		Protocol: "tcp",
		FromPort: port,
		ToPort:   port,
		CIDRs:    append([]string(nil), cidrs...),
	}
}
