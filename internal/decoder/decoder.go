// Package decoder turns raw chain logs into decoded events against a
// schema.Tables. It is pure and stateless: the same (tables, log) pair
// always produces the same output, which is what lets the endpoint call it
// inline on the hot path without locking.
package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/example/evmscan/internal/schema"
)

// Event is a decoded log: the event name plus its arguments, keyed by
// argument name so that a higher layer (store, sink) can shape it however it
// needs without the decoder knowing about that shape.
type Event struct {
	BlockNumber uint64
	TxHash      common.Hash
	Address     common.Address
	LogIndex    uint
	Name        string
	Args        map[string]interface{}
}

// Decode resolves lg against tables and, on a match, unpacks its indexed and
// non-indexed arguments. A nil, nil return means the log's schema is
// unknown and was silently dropped, per §5.2 of the scan spec.
func Decode(tables schema.Tables, lg types.Log) (*Event, error) {
	entry, ok := tables.Lookup(lg.Address, lg.Topics)
	if !ok {
		return nil, nil
	}

	args := make(map[string]interface{})
	if err := entry.Args.NonIndexed().UnpackIntoMap(args, lg.Data); err != nil {
		return nil, fmt.Errorf("decoder: unpack data for event %q: %w", entry.Name, err)
	}

	var indexedArgs abi.Arguments
	for _, a := range entry.Args {
		if a.Indexed {
			indexedArgs = append(indexedArgs, a)
		}
	}
	for i, a := range indexedArgs {
		if len(lg.Topics) <= i+1 {
			break
		}
		topicVals := make(map[string]interface{})
		if err := abi.ParseTopicsIntoMap(topicVals, abi.Arguments{a}, []common.Hash{lg.Topics[i+1]}); err == nil {
			for k, v := range topicVals {
				args[k] = v
			}
		} else {
			args[a.Name] = lg.Topics[i+1].Hex()
		}
	}

	return &Event{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		Address:     lg.Address,
		LogIndex:    lg.Index,
		Name:        entry.Name,
		Args:        args,
	}, nil
}

// DecodeAll decodes every log in logs, skipping (not erroring on) logs whose
// schema is unknown, and returns them in input order.
func DecodeAll(tables schema.Tables, logs []types.Log) ([]Event, error) {
	out := make([]Event, 0, len(logs))
	for _, lg := range logs {
		evt, err := Decode(tables, lg)
		if err != nil {
			return nil, err
		}
		if evt == nil {
			continue
		}
		out = append(out, *evt)
	}
	return out, nil
}

// GroupByBlock reshapes a flat event slice into the nested
// block -> tx -> address -> "name index" -> args form used by the JSON
// store, mirroring the original scanner's getEventData shaping step.
func GroupByBlock(events []Event) map[uint64]map[string]map[string]map[string]map[string]interface{} {
	out := make(map[uint64]map[string]map[string]map[string]map[string]interface{})
	for _, e := range events {
		byTx, ok := out[e.BlockNumber]
		if !ok {
			byTx = make(map[string]map[string]map[string]map[string]interface{})
			out[e.BlockNumber] = byTx
		}
		tx := e.TxHash.Hex()
		byAddr, ok := byTx[tx]
		if !ok {
			byAddr = make(map[string]map[string]map[string]interface{})
			byTx[tx] = byAddr
		}
		addr := e.Address.Hex()
		byIndex, ok := byAddr[addr]
		if !ok {
			byIndex = make(map[string]map[string]interface{})
			byAddr[addr] = byIndex
		}
		key := fmt.Sprintf("%s %d", e.Name, e.LogIndex)
		byIndex[key] = e.Args
	}
	return out
}
