// Package schema holds the event/contract lookup tables the decoder and
// endpoint use to interpret raw logs. The tables are built once at startup
// from the loaded ABIs and are read-only afterwards.
package schema

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/example/evmscan/internal/provider"
)

// Mode selects how the decoder resolves a raw log against an event
// definition. It mirrors the two filtering strategies a scan can run under.
type Mode int

const (
	// AnyEvent filters logs by a fixed set of contract addresses and accepts
	// any topic; the schema is resolved via (address, topic0).
	AnyEvent Mode = iota
	// AnyContract filters logs by a fixed set of topics across all
	// addresses; the schema is resolved via (topic0, topicCount), since two
	// events can share a name but differ in how many args are indexed.
	AnyContract
)

func (m Mode) String() string {
	if m == AnyContract {
		return "any_contract"
	}
	return "any_event"
}

// Entry is one event definition: its name, ABI arguments, and the derived
// topic count (indexed-arg count + 1 for topic0 itself).
type Entry struct {
	Name       string
	ID         common.Hash
	Args       abi.Arguments
	TopicCount int
}

// NewEntry derives an Entry from a parsed go-ethereum ABI event.
func NewEntry(ev abi.Event) Entry {
	indexed := 0
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed++
		}
	}
	return Entry{
		Name:       ev.Name,
		ID:         ev.ID,
		Args:       ev.Inputs,
		TopicCount: indexed + 1,
	}
}

// ContractTable maps a checksummed contract address to the set of event
// signatures that address is known to emit.
type ContractTable map[common.Address]map[common.Hash]Entry

// EventTable maps an event signature to its candidate definitions, keyed by
// topic count so overloaded signatures (same name, different indexed-ness)
// can be disambiguated.
type EventTable map[common.Hash]map[int]Entry

// Tables bundles both lookup shapes plus the active mode; a scan only
// populates the table its mode actually reads from.
type Tables struct {
	Mode      Mode
	Contracts ContractTable
	Events    EventTable
}

// BuildAnyEvent constructs a Tables for AnyEvent mode from a set of
// contracts, each with its parsed ABI.
func BuildAnyEvent(contracts map[common.Address]*abi.ABI) (Tables, error) {
	if len(contracts) == 0 {
		return Tables{}, fmt.Errorf("schema: any_event mode requires at least one contract")
	}
	t := Tables{Mode: AnyEvent, Contracts: make(ContractTable, len(contracts))}
	for addr, parsed := range contracts {
		entries := make(map[common.Hash]Entry, len(parsed.Events))
		for _, ev := range parsed.Events {
			e := NewEntry(ev)
			entries[e.ID] = e
		}
		t.Contracts[addr] = entries
	}
	return t, nil
}

// BuildAnyContract constructs a Tables for AnyContract mode from the union
// of ABIs across contracts, restricted to the named events.
func BuildAnyContract(contracts map[common.Address]*abi.ABI, eventNames []string) (Tables, error) {
	wanted := make(map[string]struct{}, len(eventNames))
	for _, n := range eventNames {
		wanted[n] = struct{}{}
	}
	t := Tables{Mode: AnyContract, Events: make(EventTable)}
	for _, parsed := range contracts {
		for _, ev := range parsed.Events {
			if _, ok := wanted[ev.Name]; !ok {
				continue
			}
			e := NewEntry(ev)
			if t.Events[e.ID] == nil {
				t.Events[e.ID] = make(map[int]Entry)
			}
			t.Events[e.ID][e.TopicCount] = e
		}
	}
	if len(t.Events) == 0 {
		return Tables{}, fmt.Errorf("schema: any_contract mode matched no events from %v", eventNames)
	}
	return t, nil
}

// BaseFilter derives the provider.Filter template every endpoint starts its
// jobs from: for AnyEvent mode, restrict by the known contract addresses
// and accept any topic; for AnyContract mode, restrict by the known event
// signatures and accept any address, since the address set isn't fixed.
// FromBlock/ToBlock are left zero; callers overwrite them per job.
func (t Tables) BaseFilter() provider.Filter {
	switch t.Mode {
	case AnyEvent:
		addrs := make([]common.Address, 0, len(t.Contracts))
		for addr := range t.Contracts {
			addrs = append(addrs, addr)
		}
		return provider.Filter{Addresses: addrs}
	case AnyContract:
		topics := make([]common.Hash, 0, len(t.Events))
		for sig := range t.Events {
			topics = append(topics, sig)
		}
		return provider.Filter{Topics: [][]common.Hash{topics}}
	default:
		return provider.Filter{}
	}
}

// Lookup resolves a raw log's (address, topics) against the tables
// according to the active mode. A false return means "silently drop" per
// the decoder's contract — the log was requested but its schema is unknown.
func (t Tables) Lookup(addr common.Address, topics []common.Hash) (Entry, bool) {
	if len(topics) == 0 {
		return Entry{}, false
	}
	switch t.Mode {
	case AnyEvent:
		byAddr, ok := t.Contracts[addr]
		if !ok {
			return Entry{}, false
		}
		e, ok := byAddr[topics[0]]
		return e, ok
	case AnyContract:
		byCount, ok := t.Events[topics[0]]
		if !ok {
			return Entry{}, false
		}
		e, ok := byCount[len(topics)]
		return e, ok
	default:
		return Entry{}, false
	}
}
