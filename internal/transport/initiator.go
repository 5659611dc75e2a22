// file: internal/transport/initiator.go
package transport

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/host"
	"github.com/dkoosis/framelink/internal/logging"
)

// DefaultStartDelay gives an independently booting acceptor time to install its listener.
const DefaultStartDelay = 100 * time.Millisecond

// InitiatorConfig configures an Initiator.
type InitiatorConfig struct {
	// Local is the window the initiator runs in; replies are delivered to it.
	Local host.Window
	// Target is the acceptor's context. Nil means Local.Parent().
	Target host.Target
	// TargetOrigin filters both directions: "*" or an exact origin. Empty means "*".
	TargetOrigin   string
	AllowedOrigins []string
	// StartDelay is waited before Start reports active. Zero means DefaultStartDelay;
	// negative disables the delay.
	StartDelay time.Duration
	Logger     logging.Logger
}

// Initiator is the channel used by the calling side.
type Initiator struct {
	*channel
	explicit   host.Target
	startDelay time.Duration
}

var _ Channel = (*Initiator)(nil)

// NewInitiator builds an idle Initiator.
func NewInitiator(cfg InitiatorConfig, observer Observer) (*Initiator, error) {
	ch, err := newChannel("initiator", cfg.Local, cfg.TargetOrigin, cfg.AllowedOrigins, observer, cfg.Logger)
	if err != nil {
		return nil, err
	}
	delay := cfg.StartDelay
	switch {
	case delay == 0:
		delay = DefaultStartDelay
	case delay < 0:
		delay = 0
	}
	return &Initiator{channel: ch, explicit: cfg.Target, startDelay: delay}, nil
}

// Start resolves the target (explicit, else the enclosing window), installs the listener
// and waits the start delay.
func (i *Initiator) Start(ctx context.Context) (func(), error) {
	return i.start(ctx, i.resolve, i.settle)
}

func (i *Initiator) resolve() (host.Target, error) {
	if i.explicit != nil {
		return i.explicit, nil
	}
	if parent := i.local.Parent(); parent != nil {
		return parent, nil
	}
	return nil, NewTargetError("initiator has no explicit target and is not embedded", nil)
}

func (i *Initiator) settle(ctx context.Context) error {
	if i.startDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(i.startDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "initiator start cancelled")
	}
}
