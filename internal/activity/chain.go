package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/therafiali/internal-app-sub002/internal/domain"
)

// GenesisHash anchors the first entry of every account stream.
var GenesisHash = strings.Repeat("0", 64)

// Seal links an entry into its account's hash chain. Stores call it
// inside the transaction that inserts the entry, after reading the
// stream's latest hash.
func Seal(e *domain.ActivityEntry, prevHash string) {
	if prevHash == "" {
		prevHash = GenesisHash
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	// timestamptz keeps microseconds; hash what survives storage so
	// the chain still verifies after a round trip.
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	e.PrevHash = prevHash
	e.Hash = entryHash(e)
}

// VerifyChain checks that entries form an unbroken, untampered chain.
// Entries must be in append order for a single account.
func VerifyChain(entries []*domain.ActivityEntry) error {
	for i, e := range entries {
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return fmt.Errorf("chain broken at entry %s: prev_hash %s does not match %s", e.ID, e.PrevHash, entries[i-1].Hash)
		}
		if got := entryHash(e); got != e.Hash {
			return fmt.Errorf("hash mismatch at entry %s: expected %s, got %s", e.ID, got, e.Hash)
		}
	}
	return nil
}

func entryHash(e *domain.ActivityEntry) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d|%d|%s|%s|%s",
		e.PrevHash,
		e.ID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.Actor,
		e.AccountID,
		e.Amount,
		e.BalanceBefore,
		e.BalanceAfter,
		e.Action,
		e.Status,
		canonicalContext(e.Context),
	)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// canonicalContext encodes the context map deterministically so the
// hash covers it. encoding/json sorts map keys, which is canonical
// enough for the flat maps entries carry.
func canonicalContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return ""
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Sprintf("%v", ctx)
	}
	return string(b)
}
