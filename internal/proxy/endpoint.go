package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"scrapekit/pkg/utils"
)

// Endpoint is an upstream proxy. The browser facade treats it as opaque.
type Endpoint struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ParseEndpoint accepts scheme://[user:pass@]host:port, defaulting the scheme to http
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, utils.NewValidationError("proxy address is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, utils.NewValidationError(fmt.Sprintf("invalid proxy address: %v", err))
	}

	host, portText, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, utils.NewValidationError(fmt.Sprintf("proxy address %q needs host:port", u.Host))
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, utils.NewValidationError(fmt.Sprintf("invalid proxy port %q", portText))
	}

	ep := Endpoint{Protocol: u.Scheme, Host: host, Port: port}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

// Server is the address without credentials, as browsers expect it
func (e Endpoint) Server() string {
	return fmt.Sprintf("%s://%s", e.scheme(), net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

// URL includes credentials, for HTTP clients
func (e Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: e.scheme(), Host: net.JoinHostPort(e.Host, strconv.Itoa(e.Port))}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// String redacts the password
func (e Endpoint) String() string {
	if e.Username == "" {
		return e.Server()
	}
	return fmt.Sprintf("%s://%s:***@%s", e.scheme(), e.Username, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

func (e Endpoint) scheme() string {
	if e.Protocol == "" {
		return "http"
	}
	return e.Protocol
}
