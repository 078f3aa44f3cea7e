package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlan_ActionsOrder(t *testing.T) {
	p := Plan{
		Downloads: []Download{{RemoteID: "42", Filename: "c.txt", Tag: "Movies"}},
		Deletes:   []Delete{{Filename: "b.txt", Tag: "TV"}},
		Moves:     []Move{{Filename: "a.txt", FromTag: "Movies", ToTag: "TV"}},
	}

	actions := p.Actions()

	assert.Equal(t, 3, p.Len())
	assert.False(t, p.IsEmpty())
	assert.Equal(t, []ActionKind{KindMove, KindDelete, KindDownload},
		[]ActionKind{actions[0].Kind(), actions[1].Kind(), actions[2].Kind()})
	assert.Equal(t, "a.txt", actions[0].File())
	assert.Equal(t, "b.txt", actions[1].File())
	assert.Equal(t, "c.txt", actions[2].File())
}

func TestPlan_Sort(t *testing.T) {
	p := Plan{
		Moves:     []Move{{Filename: "z"}, {Filename: "a"}},
		Downloads: []Download{{Filename: "y"}, {Filename: "b"}},
	}

	p.Sort()

	assert.Equal(t, "a", p.Moves[0].Filename)
	assert.Equal(t, "b", p.Downloads[0].Filename)
}

func TestCountFailed(t *testing.T) {
	outcomes := []Outcome{
		{Action: Move{Filename: "a"}},
		{Action: Delete{Filename: "b"}, Err: errors.New("boom")},
		{Action: Download{Filename: "c"}, Err: &IntegrityMismatchError{Filename: "c"}},
	}

	assert.Equal(t, 2, CountFailed(outcomes))
	assert.True(t, outcomes[1].Failed())
	assert.False(t, outcomes[0].Failed())
	assert.True(t, Plan{}.IsEmpty())
}
