package netutil

import (
	"fmt"
	"net"
	"strconv"
)

// SelectBindAddr picks an available bind address: the preferred host:port
// first, then the same host paired with each candidate port when fallback
// is allowed.
func SelectBindAddr(preferred string, candidatePorts []int, autoFallback bool) (string, error) {
	ok, err := IsAddrAvailable(preferred)
	if err != nil {
		return "", err
	}
	if ok {
		return preferred, nil
	}
	if !autoFallback {
		return "", fmt.Errorf("preferred bind address in use: %s", preferred)
	}

	host, _, err := net.SplitHostPort(preferred)
	if err != nil {
		return "", fmt.Errorf("bad bind address %q: %w", preferred, err)
	}
	for _, port := range candidatePorts {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	return "", fmt.Errorf("no available bind address on %s", host)
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
