package wallet

import (
	"errors"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

const preflightFailureCode = -32002

// preflightSimulation extracts the simulation payload attached to a
// send-transaction preflight failure, or nil for any other error.
func preflightSimulation(err error) *Simulation {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != preflightFailureCode {
		return nil
	}
	sim := &Simulation{}
	data, ok := rpcErr.Data.(map[string]any)
	if !ok {
		return sim
	}
	sim.Err = data["err"]
	if logs, ok := data["logs"].([]any); ok {
		for _, entry := range logs {
			if s, ok := entry.(string); ok {
				sim.Logs = append(sim.Logs, s)
			}
		}
	}
	return sim
}

// Log returns the i-th program log line, or "" when absent. The on-chain
// programs emit their success/failure reason on a fixed line, which
// callers inspect by index.
func (s *Simulation) Log(i int) string {
	if s == nil || i < 0 || i >= len(s.Logs) {
		return ""
	}
	return s.Logs[i]
}

// Failed reports whether the simulation ended in an instruction error.
func (s *Simulation) Failed() bool {
	return s != nil && s.Err != nil
}
