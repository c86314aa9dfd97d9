package updater

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/factorio-stats/backend/internal/state"
)

func TestUpdaterStateCodecRoundTrip(t *testing.T) {
	us := NewState()
	us.ScheduledToMergeHostIDs[state.HostID{1}] = &MergeInfo{
		FirstChangeTime: 10,
		LastChangeTime:  12,
		BaselineGameIDs: []state.GameID{3, 4},
	}
	us.ScheduledToMergeHostIDs[state.HostID{2}] = &MergeInfo{
		FirstChangeTime: 20,
		LastChangeTime:  20,
	}

	var buf bytes.Buffer
	e := state.NewEncoder(&buf)
	us.Encode(e)
	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodeUpdaterState(state.NewDecoder(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(us, decoded) {
		t.Errorf("round trip: got %+v, want %+v", decoded, us)
	}
}

func TestUpdaterStateEncodeIsDeterministic(t *testing.T) {
	us := NewState()
	for i := byte(1); i <= 9; i++ {
		us.ScheduledToMergeHostIDs[state.HostID{i}] = &MergeInfo{
			FirstChangeTime: state.TimeMinutes(i),
			LastChangeTime:  state.TimeMinutes(i),
		}
	}

	encode := func() []byte {
		var buf bytes.Buffer
		e := state.NewEncoder(&buf)
		us.Encode(e)
		e.Flush()
		return buf.Bytes()
	}
	first := encode()
	for i := 0; i < 10; i++ {
		if !bytes.Equal(first, encode()) {
			t.Fatal("two encodings of the same merge queue differ")
		}
	}
}
