package fieldwork

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerChain(t *testing.T) {
	var entries []LedgerEntry
	var err error
	for i, kind := range []LedgerKind{LedgerSettlementRequested, LedgerFeeRetained, LedgerSettlementConfirmed} {
		entries, _, err = AppendLedger(entries, LedgerEntry{
			EntryID:  NewID("led"),
			TaskID:   "task-1",
			Kind:     kind,
			Amount:   int64(100 * (i + 1)),
			Currency: "USDC",
			At:       t0,
		})
		require.NoError(t, err)
	}
	require.NoError(t, VerifyLedger(entries))
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, 3, entries[2].Seq)

	h, err := HashLedgerEntry(entries[1])
	require.NoError(t, err)
	assert.Equal(t, entries[1].Hash, h, "hash ignores the stored hash field")

	entries[1].Amount = 1
	assert.Error(t, VerifyLedger(entries))
}
