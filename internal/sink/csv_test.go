package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/example/evmscan/internal/decoder"
)

func TestCSVSinkWritesHeaderAndSortedColumns(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	evt := decoder.Event{
		BlockNumber: 10,
		TxHash:      common.HexToHash("0xabc"),
		Address:     common.HexToAddress("0x1"),
		LogIndex:    0,
		Name:        "Transfer",
		Args:        map[string]interface{}{"to": "0x2", "from": "0x3", "value": "100"},
	}
	require.NoError(t, s.Write(evt))

	f, err := os.Open(filepath.Join(dir, "Transfer.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{"address", "block_number", "event_name", "from", "log_index", "to", "tx_hash", "value"}, rows[0])
}

func TestCSVSinkAppendsWithoutDuplicatingHeader(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	evt := decoder.Event{Name: "Approval", Args: map[string]interface{}{}}
	require.NoError(t, s.Write(evt))
	require.NoError(t, s.Write(evt))

	f, err := os.Open(filepath.Join(dir, "Approval.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 data rows
}

func TestCSVSinkUsesUnknownForEmptyEventName(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(decoder.Event{Args: map[string]interface{}{}}))
	_, err = os.Stat(filepath.Join(dir, "unknown.csv"))
	require.NoError(t, err)
}
