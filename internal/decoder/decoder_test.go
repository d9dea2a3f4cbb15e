package decoder

import (
	"math/big"
	"strings"
	"testing"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/example/evmscan/internal/schema"
)

const transferABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}]`

func mustParseABI(t *testing.T) gethabi.ABI {
	t.Helper()
	parsed, err := gethabi.JSON(strings.NewReader(transferABI))
	require.NoError(t, err)
	return parsed
}

func TestDecodeRoundTripsTransferEvent(t *testing.T) {
	parsed := mustParseABI(t)
	addr := common.HexToAddress("0x0000000000000000000000000000000000000a")
	tables, err := schema.BuildAnyEvent(map[common.Address]*gethabi.ABI{addr: &parsed})
	require.NoError(t, err)

	ev := parsed.Events["Transfer"]
	from := common.HexToAddress("0x000000000000000000000000000000000000b0")
	to := common.HexToAddress("0x000000000000000000000000000000000000c0")
	value := big.NewInt(42)

	data, err := ev.Inputs.NonIndexed().Pack(value)
	require.NoError(t, err)

	lg := types.Log{
		Address:     addr,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xabc"),
		Index:       1,
	}

	decoded, err := Decode(tables, lg)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	require.Equal(t, "Transfer", decoded.Name)
	require.Equal(t, uint64(100), decoded.BlockNumber)
	require.Equal(t, from, decoded.Args["from"])
	require.Equal(t, to, decoded.Args["to"])
	require.Equal(t, value, decoded.Args["value"])
}

func TestDecodeUnknownSchemaReturnsNil(t *testing.T) {
	tables := schema.Tables{Mode: schema.AnyEvent, Contracts: schema.ContractTable{}}
	lg := types.Log{Address: common.HexToAddress("0x1"), Topics: []common.Hash{common.HexToHash("0xdead")}}
	decoded, err := Decode(tables, lg)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestDecodeAllSkipsUnknownLogs(t *testing.T) {
	parsed := mustParseABI(t)
	addr := common.HexToAddress("0x1")
	tables, err := schema.BuildAnyEvent(map[common.Address]*gethabi.ABI{addr: &parsed})
	require.NoError(t, err)

	unknown := types.Log{Address: common.HexToAddress("0x2"), Topics: []common.Hash{common.HexToHash("0xdead")}}
	events, err := DecodeAll(tables, []types.Log{unknown})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestGroupByBlockNestsByBlockTxAddressNameIndex(t *testing.T) {
	evt := Event{
		BlockNumber: 5,
		TxHash:      common.HexToHash("0xabc"),
		Address:     common.HexToAddress("0x1"),
		LogIndex:    2,
		Name:        "Transfer",
		Args:        map[string]interface{}{"value": big.NewInt(1)},
	}
	grouped := GroupByBlock([]Event{evt})
	require.Contains(t, grouped, uint64(5))
	byTx := grouped[5][evt.TxHash.Hex()]
	byAddr := byTx[evt.Address.Hex()]
	args, ok := byAddr["Transfer 2"]
	require.True(t, ok)
	require.Equal(t, evt.Args, args)
}
