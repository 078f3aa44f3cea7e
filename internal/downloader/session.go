package downloader

// State is a step of the download state machine.
type State string

const (
	StateInit      State = "INIT"
	StateFetchURL  State = "FETCH_URL"
	StateStreaming State = "STREAMING"
	StateVerifying State = "VERIFYING"
	StateComplete  State = "COMPLETE"
	StateFailed    State = "FAILED"
)

const unknownSize = -1

// Session is the state of one file transfer. It is owned by a single
// Download call and never shared.
type Session struct {
	Filename     string
	RemoteID     string
	URL          string
	TempPath     string
	ExpectedSize int64
	BytesWritten int64
	Attempt      int
	State        State
}

func newSession(filename, remoteID, tempPath string) *Session {
	return &Session{
		Filename:     filename,
		RemoteID:     remoteID,
		TempPath:     tempPath,
		ExpectedSize: unknownSize,
		State:        StateInit,
	}
}
