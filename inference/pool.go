package inference

import (
	"fmt"
	"sync/atomic"

	"github.com/flychenzhu/tengen/game"
)

// OnnxPool fans out Evaluate calls across multiple OnnxClient
// instances. Each client has its own batching loop and ORT session,
// allowing parallel inference execution.
//
// ORT environment initialization is process-global; OnnxClient handles
// that internally.
type OnnxPool struct {
	clients []*OnnxClient
	rr      atomic.Uint64
}

func NewOnnxPool(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}
	clients := make([]*OnnxClient, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClient(modelPath, cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}
	return &OnnxPool{clients: clients}, nil
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *OnnxPool) NNXLen() int { return p.clients[0].NNXLen() }
func (p *OnnxPool) NNYLen() int { return p.clients[0].NNYLen() }

func (p *OnnxPool) SupportsShorttermError() bool { return true }

func (p *OnnxPool) Evaluate(b *game.Board, hist *game.History, pla game.Player, params InputParams) (*NNOutput, error) {
	if len(p.clients) == 0 {
		return nil, fmt.Errorf("onnx pool has no clients")
	}
	idx := int(p.rr.Add(1)-1) % len(p.clients)
	return p.clients[idx].Evaluate(b, hist, pla, params)
}
