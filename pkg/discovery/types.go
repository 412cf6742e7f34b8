package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a backbone.
	ServiceType = "_ipc-backbone._tcp"

	// Domain is the mDNS domain.
	Domain = "local."
)

// TXT record keys.
const (
	TXTKeyReq     = "req"
	TXTKeyPub     = "pub"
	TXTKeySub     = "sub"
	TXTKeyVersion = "ver"
)

// Timing constants.
const (
	// DefaultTTL is the record TTL announced by the advertiser.
	DefaultTTL = 120 * time.Second

	// BrowseTimeout is the default timeout for Find.
	BrowseTimeout = 10 * time.Second
)

// MaxInstanceNameLen is the DNS label limit.
const MaxInstanceNameLen = 63

// Errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record value")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotAdvertising      = errors.New("not advertising")
	ErrNotFound            = errors.New("backbone not found")
)

// TXTRecordMap holds the key/value pairs of a TXT record.
type TXTRecordMap map[string]string

// BackboneInfo is what a backbone advertises about itself.
type BackboneInfo struct {
	// Instance is the DNS-SD instance name. Defaults to the host name.
	Instance string

	ReqPort uint16
	PubPort uint16
	SubPort uint16

	// Version is the backbone version, advertised as ver when set.
	Version string
}

// Service is a backbone found by a Browser.
type Service struct {
	Instance  string
	Host      string
	Addresses []string

	ReqPort uint16
	PubPort uint16
	SubPort uint16
	Version string
}

// Endpoints holds the three endpoint URLs of a discovered backbone.
type Endpoints struct {
	Req string
	Pub string
	Sub string
}

// Endpoints returns tcp:// URLs for the first known address, falling back
// to the host name when no address was resolved.
func (s *Service) Endpoints() Endpoints {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	url := func(p uint16) string {
		return "tcp://" + net.JoinHostPort(host, strconv.Itoa(int(p)))
	}
	return Endpoints{Req: url(s.ReqPort), Pub: url(s.PubPort), Sub: url(s.SubPort)}
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
