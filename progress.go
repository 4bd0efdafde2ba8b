package ftpsession

import (
	"sync"

	"github.com/google/uuid"
)

// Status is the lifecycle stage carried by a TransferProgress record.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
)

// TransferProgress is one progress record for a logical transfer.
type TransferProgress struct {
	TransferID string `json:"transfer_id"`

	// Filename is the remote name as the caller passed it.
	Filename string `json:"filename"`

	// Progress is the number of bytes moved so far.
	Progress uint64 `json:"progress"`

	// Total is the expected size, 0 when unknown.
	Total uint64 `json:"total"`

	Status Status `json:"status"`
}

// Transfer id prefixes.
const (
	downloadPrefix = "dl-"
	uploadPrefix   = "ul-"
	folderPrefix   = "df-"
)

func newTransferID(prefix string) string {
	return prefix + uuid.NewString()
}

// Reporter receives progress records. Report is called on the transferring
// goroutine while the session is locked, so it must return quickly and
// must not call back into the Session.
type Reporter interface {
	Report(TransferProgress)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(TransferProgress)

// Report calls f(p).
func (f ReporterFunc) Report(p TransferProgress) { f(p) }

// MultiReporter fans each record out to every reporter in order.
type MultiReporter []Reporter

// Report implements Reporter.
func (m MultiReporter) Report(p TransferProgress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}

type nopReporter struct{}

func (nopReporter) Report(TransferProgress) {}

// Broadcaster is a Reporter that publishes every record to a dynamic set of
// subscriber channels. Publishing never blocks: a subscriber whose buffer
// is full misses the record.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan TransferProgress]struct{}
	buffer      int
}

// NewBroadcaster returns a Broadcaster whose subscriber channels hold up to
// buffer records (64 when buffer is not positive).
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subscribers: make(map[chan TransferProgress]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber. The caller must Unsubscribe it.
func (b *Broadcaster) Subscribe() <-chan TransferProgress {
	ch := make(chan TransferProgress, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown channels
// are ignored.
func (b *Broadcaster) Unsubscribe(sub <-chan TransferProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		if ch == sub {
			delete(b.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Report implements Reporter.
func (b *Broadcaster) Report(p TransferProgress) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- p:
		default:
		}
	}
}

// Count returns the number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
