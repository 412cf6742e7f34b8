package discovery

import (
	"context"
	"time"
)

// Advertiser announces a backbone on the local network.
type Advertiser interface {
	// Advertise starts announcing info, replacing a previous announcement.
	Advertise(ctx context.Context, info *BackboneInfo) error

	// Update replaces the TXT record of the running announcement.
	Update(info *BackboneInfo) error

	// Stop withdraws the announcement. It is safe to call more than once.
	Stop() error
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface restricts announcements to one network interface.
	// Empty string means all interfaces.
	Interface string

	// TTL is the record time-to-live. Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: DefaultTTL}
}
