package transform

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// Order decides how allow and deny lists combine.
type Order int

const (
	// AllowDeny permits hosts that are allowed and not denied.
	AllowDeny Order = iota
	// DenyAllow permits hosts that are not denied or are explicitly allowed.
	DenyAllow
)

// HostFilter matches hosts against allow and deny lists.  Entries starting with a
// digit are IP address prefixes, other entries are hostname suffixes, and "all"
// matches every host.
type HostFilter struct {
	Allow []string
	Deny  []string
	Order Order
}

// ParseOrder parses "allow,deny" or "deny,allow".
func ParseOrder(s string) (Order, error) {
	switch strings.Replace(strings.ToLower(s), " ", "", -1) {
	case "", "allow,deny":
		return AllowDeny, nil
	case "deny,allow":
		return DenyAllow, nil
	default:
		return AllowDeny, fmt.Errorf("bad access order %q", s)
	}
}

// ReadHostFilter parses access rules in the form
//
//	order deny,allow
//	deny from all
//	allow from 192.168. example.org
//
// Lines starting with '#' are ignored.
func ReadHostFilter(r io.Reader) (*HostFilter, error) {
	hf := new(HostFilter)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case fields[0] == "order" && len(fields) >= 2:
			order, err := ParseOrder(strings.Join(fields[1:], ""))
			if err != nil {
				return nil, err
			}
			hf.Order = order
		case fields[0] == "allow" && len(fields) >= 3 && fields[1] == "from":
			hf.Allow = append(hf.Allow, fields[2:]...)
		case fields[0] == "deny" && len(fields) >= 3 && fields[1] == "from":
			hf.Deny = append(hf.Deny, fields[2:]...)
		default:
			return nil, fmt.Errorf("bad access rule: %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return hf, nil
}

// Limited returns true if any allow or deny entries exist.
func (hf *HostFilter) Limited() bool {
	return hf != nil && (len(hf.Allow) > 0 || len(hf.Deny) > 0)
}

// Permits returns true if the host may access unrestricted renderings.
func (hf *HostFilter) Permits(host string) bool {
	if !hf.Limited() {
		return true
	}
	allowed := matchHost(hf.Allow, host)
	denied := matchHost(hf.Deny, host)
	if hf.Order == DenyAllow {
		return !denied || allowed
	}
	return allowed && !denied
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func matchHost(list []string, host string) bool {
	isIP := host != "" && isDigit(host[0])
	for _, elm := range list {
		switch {
		case elm == "all":
			return true
		case elm == "":
		case isDigit(elm[0]):
			if isIP && strings.HasPrefix(host, elm) {
				return true
			}
		default:
			if !isIP && strings.HasSuffix(host, elm) {
				return true
			}
		}
	}
	return false
}

// HostOf extracts the host from a URL, a host:port pair or a bare host.
func HostOf(s string) string {
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
