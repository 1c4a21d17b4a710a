// Package workflow runs the interactive deposit and credential-change batches
// against a signing device.
package workflow

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ethpandaops/validator-deposits/pkg/artifact"
	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
	"github.com/ethpandaops/validator-deposits/pkg/network"
)

// DefaultDeviceTimeout bounds a single device call.
const DefaultDeviceTimeout = 5 * time.Minute

const maxValidatorIndex = int64(hdpath.HardenedOffset - 1)

// Config is shared by both batches.
type Config struct {
	Device  device.Gateway
	UI      UI
	Network network.Network
	Clock   clockwork.Clock

	// DeviceTimeout bounds each device call. Expiry surfaces as
	// device.ErrDeviceUnavailable once the call returns.
	DeviceTimeout time.Duration
	// ProgressInterval is how often a pending device call is reported.
	ProgressInterval time.Duration
	// OutputDir is offered as the default output directory.
	OutputDir string
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	if c.DeviceTimeout == 0 {
		c.DeviceTimeout = DefaultDeviceTimeout
	}

	if c.ProgressInterval == 0 {
		c.ProgressInterval = DefaultProgressInterval
	}

	if c.OutputDir == "" {
		c.OutputDir = artifact.DefaultOutputDir
	}

	return c
}
