package discovery

import (
	"context"
	"time"
)

// Browser finds backbones on the local network.
type Browser interface {
	// Browse streams backbones as they are found. Addresses announced on
	// several interfaces are merged into one Service per instance. The
	// channel is closed when ctx ends.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the first backbone whose instance name matches, or any
	// backbone when instance is empty.
	Find(ctx context.Context, instance string) (*Service, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find when ctx has no deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}
