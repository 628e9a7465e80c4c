package backend

import (
	"fmt"

	"inferd/pkg/types"
)

// Mode names a configured backend family.
const (
	ModeServer = "server"
	ModeLlama  = "llama"
)

// Selector dispatches descriptor kinds to backend constructors. Vision
// models always take the server backend; text models follow the configured
// mode.
type Selector struct {
	server Backend
	llama  Backend
	mode   string
}

// NewSelector builds the constructor table from configuration.
func NewSelector(mode string, serverCfg ServerConfig, llamaCfg LlamaConfig) (*Selector, error) {
	switch mode {
	case "", ModeServer, ModeLlama:
	default:
		return nil, fmt.Errorf("unknown backend mode: %s", mode)
	}
	if mode == "" {
		mode = ModeServer
	}
	return &Selector{
		server: NewServer(serverCfg),
		llama:  NewLlama(llamaCfg),
		mode:   mode,
	}, nil
}

// For returns the backend serving the given model kind.
func (s *Selector) For(kind types.BackendKind) Backend {
	if kind == types.BackendVisionCapable {
		return s.server
	}
	if s.mode == ModeLlama {
		return s.llama
	}
	return s.server
}
