package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/tiled/tiled"
	"github.com/janelia-flyem/tiled/transform"
)

// loadHostFilter builds the server-wide host filter from [access].
func loadHostFilter(ac accessConfig) (*transform.HostFilter, error) {
	hosts := new(transform.HostFilter)
	if ac.File != "" {
		f, err := os.Open(ac.File)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if hosts, err = transform.ReadHostFilter(f); err != nil {
			return nil, fmt.Errorf("bad access file %s: %v", ac.File, err)
		}
	}
	hosts.Allow = append(hosts.Allow, ac.Allow...)
	hosts.Deny = append(hosts.Deny, ac.Deny...)
	if ac.Order != "" {
		order, err := transform.ParseOrder(ac.Order)
		if err != nil {
			return nil, err
		}
		hosts.Order = order
	}
	return hosts, nil
}

func addBlock(blockMap map[string]string, data string) error {
	parts := strings.Split(data, ",")
	switch len(parts) {
	case 1:
		blockMap[parts[0]] = ""
	case 2:
		blockMap[parts[0]] = parts[1]
	default:
		return fmt.Errorf("bad blocklist line")
	}
	return nil
}

// loadBlockList reads "ip=<pattern>[,note]" lines, where '*' matches any octet.
func loadBlockList(filename string) (map[string]string, error) {
	blocked := make(map[string]string)
	if filename == "" {
		return blocked, nil
	}
	tiled.Infof("Blocklist (%s) found.\n", filename)
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "ip="):
			if err := addBlock(blocked, line[3:]); err != nil {
				return nil, fmt.Errorf("bad ip blocklist line: %s", line)
			}
		default:
			return nil, fmt.Errorf("bad line in blocklist file (%s): %s", filename, line)
		}
	}
	return blocked, scanner.Err()
}

func (s *Server) blockedIP(ip string) (string, bool) {
	targetParts := strings.Split(ip, ".")
	for blockIP, note := range s.blocked {
		parts := strings.Split(blockIP, ".")
		if len(parts) > len(targetParts) {
			continue
		}
		match := true
		for i := 0; i < len(parts); i++ {
			if parts[i] == "*" {
				continue
			}
			if parts[i] != targetParts[i] {
				match = false
				break
			}
		}
		if match {
			return note, true
		}
	}
	return "", false
}

// accessControl is middleware rejecting blocked or unpermitted source hosts.
func (s *Server) accessControl(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		ip, err := requestSourceIP(r)
		if err != nil {
			tiled.Errorf("Error getting source IP for request: %v\n", err)
			h.ServeHTTP(w, r)
			return
		}
		if note, found := s.blockedIP(ip); found {
			http.Error(w, fmt.Sprintf("IP %q is blocked: %s", ip, note), http.StatusTooManyRequests)
			return
		}
		if !s.hosts.Permits(ip) {
			http.Error(w, fmt.Sprintf("Host %q may not access this server", ip), http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// requestSourceIP returns the originating address of a request, honoring proxy
// headers.
func requestSourceIP(r *http.Request) (string, error) {
	// Check the Forward header
	forwardedHeader := r.Header.Get("Forwarded")
	if forwardedHeader != "" {
		parts := strings.Split(forwardedHeader, ",")
		firstPart := strings.TrimSpace(parts[0])
		subParts := strings.Split(firstPart, ";")
		for _, part := range subParts {
			normalisedPart := strings.ToLower(strings.TrimSpace(part))
			if strings.HasPrefix(normalisedPart, "for=") {
				return strings.Trim(normalisedPart[4:], `"`), nil
			}
		}
	}

	// Check the X-Forwarded-For header
	xForwardedForHeader := r.Header.Get("X-Forwarded-For")
	if xForwardedForHeader != "" {
		parts := strings.Split(xForwardedForHeader, ",")
		return strings.TrimSpace(parts[0]), nil
	}

	// Check on the request
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", err
	}
	return host, nil
}
