package ledger

import (
	"math/big"
	"testing"
)

func TestStageDiscardLeavesBaseUntouched(t *testing.T) {
	base := NewMemStore()

	stage := NewStage(base)
	stage.PutAccount(&Account{ID: "0xaa"})
	stage.PutPool(&Pool{ID: "0xbb", Initialized: true})
	// stage dropped without commit

	if _, ok := base.Account("0xaa"); ok {
		t.Errorf("discarded stage leaked account into base")
	}
	if _, ok := base.Pool("0xbb"); ok {
		t.Errorf("discarded stage leaked pool into base")
	}
}

func TestStageCommitAppliesWrites(t *testing.T) {
	base := NewMemStore()

	stage := NewStage(base)
	stage.PutAccount(&Account{ID: "0xaa", OpenedLongCount: 1})
	stage.PutPosition(&Position{ID: "p-0", Account: "0xaa", Size: big.NewInt(5)})
	dirty := stage.Commit()

	if len(dirty) != 2 {
		t.Fatalf("dirty len = %d, want 2", len(dirty))
	}
	if dirty[0].Kind != KindAccount || dirty[0].ID != "0xaa" {
		t.Errorf("dirty[0] = %v/%s, want account/0xaa", dirty[0].Kind, dirty[0].ID)
	}
	if dirty[1].Kind != KindPosition || dirty[1].ID != "p-0" {
		t.Errorf("dirty[1] = %v/%s, want position/p-0", dirty[1].Kind, dirty[1].ID)
	}

	a, ok := base.Account("0xaa")
	if !ok || a.OpenedLongCount != 1 {
		t.Errorf("committed account not visible in base")
	}
	p, ok := base.Position("p-0")
	if !ok || p.Size.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("committed position not visible in base")
	}
}

func TestStageReadsCloneBaseEntities(t *testing.T) {
	base := NewMemStore()
	seed := NewStage(base)
	seed.PutAccount(&Account{ID: "0xaa", CumulativeCollateralIn: big.NewInt(100)})
	seed.Commit()

	stage := NewStage(base)
	a, ok := stage.Account("0xaa")
	if !ok {
		t.Fatalf("account not found through stage")
	}
	a.CumulativeCollateralIn.Add(a.CumulativeCollateralIn, big.NewInt(50))
	// mutation not committed

	orig, _ := base.Account("0xaa")
	if orig.CumulativeCollateralIn.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("uncommitted mutation reached base: %s", orig.CumulativeCollateralIn)
	}
}

func TestStageRepeatedPutIsSingleDirtyEntry(t *testing.T) {
	base := NewMemStore()

	stage := NewStage(base)
	a := &Account{ID: "0xaa"}
	stage.PutAccount(a)
	a.OpenedLongCount++
	stage.PutAccount(a)
	a.ClosedLongCount++
	stage.PutAccount(a)

	dirty := stage.Commit()
	if len(dirty) != 1 {
		t.Fatalf("dirty len = %d, want 1", len(dirty))
	}
	got := dirty[0].Entity.(*Account)
	if got.OpenedLongCount != 1 || got.ClosedLongCount != 1 {
		t.Errorf("dirty entity missing later mutations: %+v", got)
	}
}

func TestPositionUntouched(t *testing.T) {
	p := &Position{ID: "p-0", Price: big.NewInt(0), Size: big.NewInt(0)}
	if !p.Untouched() {
		t.Errorf("all-zero position should be untouched")
	}
	p.Size = big.NewInt(5)
	if p.Untouched() {
		t.Errorf("position with size should not be untouched")
	}
}
