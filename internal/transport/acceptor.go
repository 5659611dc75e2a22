// file: internal/transport/acceptor.go
package transport

import (
	"context"

	"github.com/dkoosis/framelink/internal/host"
	"github.com/dkoosis/framelink/internal/logging"
)

// AcceptorConfig configures an Acceptor. The target is taken from the first of Target,
// Frame or UseParent that is set.
type AcceptorConfig struct {
	Local host.Window
	// Target is an explicit reference to the initiator's context.
	Target host.Target
	// Frame is an embedding frame whose content window is the initiator.
	Frame host.Frame
	// UseParent selects Local.Parent() as the initiator.
	UseParent      bool
	TargetOrigin   string
	AllowedOrigins []string
	Logger         logging.Logger
}

// Acceptor is the channel used by the answering side.
type Acceptor struct {
	*channel
	explicit  host.Target
	frame     host.Frame
	useParent bool
}

var _ Channel = (*Acceptor)(nil)

// NewAcceptor builds an idle Acceptor.
func NewAcceptor(cfg AcceptorConfig, observer Observer) (*Acceptor, error) {
	ch, err := newChannel("acceptor", cfg.Local, cfg.TargetOrigin, cfg.AllowedOrigins, observer, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Acceptor{channel: ch, explicit: cfg.Target, frame: cfg.Frame, useParent: cfg.UseParent}, nil
}

// Start resolves the target and installs the listener, replacing any listener left by a
// previous Start.
func (a *Acceptor) Start(ctx context.Context) (func(), error) {
	return a.start(ctx, a.resolve, nil)
}

func (a *Acceptor) resolve() (host.Target, error) {
	switch {
	case a.explicit != nil:
		return a.explicit, nil
	case a.frame != nil:
		w, ok := a.frame.ContentWindow()
		if !ok {
			return nil, NewTargetError("frame has no content window", host.ErrFrameDetached)
		}
		return w, nil
	case a.useParent:
		if parent := a.local.Parent(); parent != nil {
			return parent, nil
		}
		return nil, NewTargetError("acceptor configured to use parent but has none", nil)
	default:
		return nil, NewTargetError("acceptor has no target configured", nil)
	}
}
