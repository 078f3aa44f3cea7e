package transfer

import "sort"

// UntaggedTag is the tag of files stored directly under the storage root.
const UntaggedTag = "Untagged"

type ActionKind string

const (
	KindMove     ActionKind = "move"
	KindDelete   ActionKind = "delete"
	KindDownload ActionKind = "download"
)

// Action is one of Move, Delete or Download.
type Action interface {
	Kind() ActionKind
	File() string
}

// Move relocates a local file from one tag directory to another.
type Move struct {
	Filename string
	FromTag  string
	ToTag    string
}

func (m Move) Kind() ActionKind { return KindMove }
func (m Move) File() string     { return m.Filename }

// Delete removes a local file from its tag directory.
type Delete struct {
	Filename string
	Tag      string
}

func (d Delete) Kind() ActionKind { return KindDelete }
func (d Delete) File() string     { return d.Filename }

// Download fetches a file the remote service offers and commits it under Tag.
type Download struct {
	RemoteID string
	Filename string
	Tag      string
	Checksum string
}

func (d Download) Kind() ActionKind { return KindDownload }
func (d Download) File() string     { return d.Filename }

// Plan is the output of one reconciliation pass.
type Plan struct {
	Moves     []Move
	Deletes   []Delete
	Downloads []Download
}

func (p Plan) Len() int {
	return len(p.Moves) + len(p.Deletes) + len(p.Downloads)
}

func (p Plan) IsEmpty() bool {
	return p.Len() == 0
}

// Actions flattens the plan in execution order: moves, deletes, downloads.
func (p Plan) Actions() []Action {
	actions := make([]Action, 0, p.Len())

	for _, m := range p.Moves {
		actions = append(actions, m)
	}

	for _, d := range p.Deletes {
		actions = append(actions, d)
	}

	for _, d := range p.Downloads {
		actions = append(actions, d)
	}

	return actions
}

// Sort orders every category by filename.
func (p *Plan) Sort() {
	sort.Slice(p.Moves, func(i, j int) bool { return p.Moves[i].Filename < p.Moves[j].Filename })
	sort.Slice(p.Deletes, func(i, j int) bool { return p.Deletes[i].Filename < p.Deletes[j].Filename })
	sort.Slice(p.Downloads, func(i, j int) bool { return p.Downloads[i].Filename < p.Downloads[j].Filename })
}

// Outcome is the terminal result of executing a single action.
type Outcome struct {
	Action Action
	Err    error
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// CountFailed returns how many outcomes carry an error.
func CountFailed(outcomes []Outcome) int {
	var n int

	for _, o := range outcomes {
		if o.Failed() {
			n++
		}
	}

	return n
}
