package state

import "testing"

func TestGamesMapInsertAndGet(t *testing.T) {
	m := NewGamesMap()
	m.Insert(Game{GameID: 10})
	m.Insert(Game{GameID: 20})
	m.Insert(Game{GameID: 30})

	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}
	for _, id := range []GameID{10, 20, 30} {
		g := m.Get(id)
		if g == nil || g.GameID != id {
			t.Errorf("Get(%d) = %v", id, g)
		}
	}
	if m.Get(15) != nil {
		t.Error("Get(15) returned a game for a missing id")
	}
}

func TestGamesMapGetReturnsMutablePointer(t *testing.T) {
	m := NewGamesMap()
	m.Insert(Game{GameID: 1})
	m.Get(1).MaxPlayers = 64
	if got := m.Get(1).MaxPlayers; got != 64 {
		t.Errorf("mutation through Get lost: MaxPlayers = %d", got)
	}
}

func TestGamesMapOutOfOrderInsert(t *testing.T) {
	m := NewGamesMap()
	m.Insert(Game{GameID: 10})
	m.Insert(Game{GameID: 30})
	// a re-listed older id splices into the middle
	m.Insert(Game{GameID: 20})

	all := m.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].GameID >= all[i].GameID {
			t.Fatalf("order broken after splice: %d before %d", all[i-1].GameID, all[i].GameID)
		}
	}
	if m.Get(20) == nil {
		t.Error("spliced id not findable")
	}
}

func TestGamesMapDuplicateInsertPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate insert did not panic")
		}
	}()
	m := NewGamesMap()
	m.Insert(Game{GameID: 30})
	m.Insert(Game{GameID: 10})
	m.Insert(Game{GameID: 10})
}
