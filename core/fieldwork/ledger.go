package fieldwork

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashLedgerEntry returns sha256 over the RFC 8785 canonical form of the
// entry with its Hash field cleared.
func HashLedgerEntry(e LedgerEntry) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("ledger entry marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("ledger entry canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// AppendLedger chains e onto entries, assigning Seq, PrevHash and Hash.
func AppendLedger(entries []LedgerEntry, e LedgerEntry) ([]LedgerEntry, LedgerEntry, error) {
	e.Seq = len(entries) + 1
	e.PrevHash = ""
	if n := len(entries); n > 0 {
		e.PrevHash = entries[n-1].Hash
	}
	h, err := HashLedgerEntry(e)
	if err != nil {
		return entries, LedgerEntry{}, err
	}
	e.Hash = h
	return append(entries, e), e, nil
}

// VerifyLedger recomputes the chain and reports the first broken link.
func VerifyLedger(entries []LedgerEntry) error {
	prev := ""
	for i, e := range entries {
		if e.Seq != i+1 {
			return fmt.Errorf("ledger entry %s: seq %d, want %d", e.EntryID, e.Seq, i+1)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("ledger entry %s: prev hash mismatch", e.EntryID)
		}
		h, err := HashLedgerEntry(e)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return fmt.Errorf("ledger entry %s: hash mismatch", e.EntryID)
		}
		prev = e.Hash
	}
	return nil
}
