package protocol

import (
	"fmt"
	"net/url"
)

// SocketURL derives the peer address from a page address: same host, port,
// path and query, with the scheme upgraded (http→ws, https→wss).
func SocketURL(pageURL string) (string, error) {
	u, err := parsePage(pageURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// RouteOf returns the path component of a page address, "/" when empty.
func RouteOf(pageURL string) (string, error) {
	u, err := parsePage(pageURL)
	if err != nil {
		return "", err
	}
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}

func parsePage(pageURL string) (*url.URL, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("page url %q: unsupported scheme %q", pageURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("page url %q: missing host", pageURL)
	}
	return u, nil
}
