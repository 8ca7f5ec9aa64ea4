package proxy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrapekit/pkg/utils"
)

// Vendor describes how a residential gateway encodes session and country
type Vendor struct {
	Name        string
	DefaultHost string
	DefaultPort int
	// Credentials returns the username and password for one sticky session
	Credentials func(username, password, country, session string) (string, string)
	NewSession  func() string
}

var Smartproxy = Vendor{
	Name:        "smartproxy",
	DefaultHost: "gate.smartproxy.com",
	DefaultPort: 7000,
	Credentials: func(username, password, country, session string) (string, string) {
		if country != "" {
			return fmt.Sprintf("%s-country-%s-session-%s", username, country, session), password
		}
		return fmt.Sprintf("%s-session-%s", username, session), password
	},
	NewSession: func() string {
		return fmt.Sprintf("%d", 10000+rand.IntN(90000))
	},
}

var BrightData = Vendor{
	Name:        "brightdata",
	DefaultHost: "brd.superproxy.io",
	DefaultPort: 22225,
	Credentials: func(username, password, country, session string) (string, string) {
		if country != "" {
			username += "-country-" + country
		}
		return username + "-session-" + session, password
	},
	NewSession: hexSession,
}

// IPRoyal carries targeting in the password
var IPRoyal = Vendor{
	Name:        "iproyal",
	DefaultHost: "geo.iproyal.com",
	DefaultPort: 12321,
	Credentials: func(username, password, country, session string) (string, string) {
		if country != "" {
			password += "_country-" + country
		}
		return username, password + "_session-" + session + "_lifetime-30m"
	},
	NewSession: hexSession,
}

var vendors = map[string]Vendor{
	Smartproxy.Name: Smartproxy,
	BrightData.Name: BrightData,
	IPRoyal.Name:    IPRoyal,
}

func hexSession() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

type GatewayOptions struct {
	Username         string
	Password         string
	Host             string
	Port             int
	Country          string
	RotationInterval time.Duration
}

// GatewayRotator hands out sticky sessions on a vendor gateway
type GatewayRotator struct {
	vendor   Vendor
	opts     GatewayOptions
	now      func() time.Time
	mu       sync.Mutex
	session  string
	issuedAt time.Time
}

func NewGatewayRotator(vendor Vendor, opts GatewayOptions) (*GatewayRotator, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, utils.NewValidationError(vendor.Name + " requires a username and password")
	}
	if opts.Host == "" {
		opts.Host = vendor.DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = vendor.DefaultPort
	}
	if opts.RotationInterval <= 0 {
		opts.RotationInterval = 60 * time.Second
	}
	opts.Country = strings.ToLower(opts.Country)

	return &GatewayRotator{vendor: vendor, opts: opts, now: time.Now}, nil
}

func (r *GatewayRotator) Name() string { return r.vendor.Name }

// GetProxy keeps the current session until the rotation interval elapses
func (r *GatewayRotator) GetProxy(ctx context.Context) (Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return Endpoint{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == "" || r.now().Sub(r.issuedAt) > r.opts.RotationInterval {
		r.rotateLocked()
	}
	return r.endpointLocked(), nil
}

// Rotate forces a new session and returns its endpoint
func (r *GatewayRotator) Rotate() Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateLocked()
	return r.endpointLocked()
}

// SetCountry retargets future sessions; the current session is dropped
func (r *GatewayRotator) SetCountry(country string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Country = strings.ToLower(country)
	r.session = ""
}

func (r *GatewayRotator) rotateLocked() {
	prev := r.session
	for r.session == prev {
		r.session = r.vendor.NewSession()
	}
	r.issuedAt = r.now()
}

func (r *GatewayRotator) endpointLocked() Endpoint {
	user, pass := r.vendor.Credentials(r.opts.Username, r.opts.Password, r.opts.Country, r.session)
	return Endpoint{
		Protocol: "http",
		Host:     r.opts.Host,
		Port:     r.opts.Port,
		Username: user,
		Password: pass,
	}
}
