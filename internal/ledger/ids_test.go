package ledger

import "testing"

func TestAccountIDNormalizesCase(t *testing.T) {
	a := AccountID("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	b := AccountID("0xabcdef0123456789abcdef0123456789abcdef01")
	if a != b {
		t.Errorf("checksummed and lower-case addresses derive different ids: %q vs %q", a, b)
	}
}

func TestPositionIDDistinctPerSequence(t *testing.T) {
	key := CounterKey(AccountID("0xaa"), PoolID("0xbb"))
	if key != "0xaa-0xbb" {
		t.Errorf("counter key = %q, want 0xaa-0xbb", key)
	}

	seen := make(map[string]bool)
	for seq := int32(0); seq < 5; seq++ {
		id := PositionID(key, seq)
		if seen[id] {
			t.Fatalf("duplicate position id %q at seq %d", id, seq)
		}
		seen[id] = true
	}
}

func TestFundingRateID(t *testing.T) {
	got := FundingRateID("0xpool", 7)
	if got != "0xpool-7" {
		t.Errorf("FundingRateID = %q, want 0xpool-7", got)
	}
}

func TestPositionSnapshotIDIncludesTxCoordinates(t *testing.T) {
	a := PositionSnapshotID("p-0", "0xhash", 1)
	b := PositionSnapshotID("p-0", "0xhash", 2)
	c := PositionSnapshotID("p-0", "0xother", 1)
	if a == b || a == c {
		t.Errorf("snapshot ids collide across transactions: %q %q %q", a, b, c)
	}
}
