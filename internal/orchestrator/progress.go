package orchestrator

import (
	"sync"

	"github.com/DieRekT/trove-research/internal/model"
)

// subscriberBuffer sizes each subscriber channel. A slow consumer drops
// events rather than stalling the job.
const subscriberBuffer = 32

// broadcaster fans progress events out to per-job subscribers. The job owns
// the computation; subscribers only observe, so unsubscribing (or a client
// disconnect upstream) never cancels anything.
type broadcaster struct {
	mu   sync.Mutex
	subs map[string][]chan model.ProgressEvent
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string][]chan model.ProgressEvent)}
}

// Subscribe registers for a job's events from now on. The returned cancel
// func detaches the subscriber; the channel is closed on cancel or when the
// job publishes a terminal event.
func (b *broadcaster) Subscribe(jobID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			chans := b.subs[jobID]
			for i, c := range chans {
				if c == ch {
					b.subs[jobID] = append(chans[:i], chans[i+1:]...)
					close(ch)
					return
				}
			}
			// Already closed by a terminal publish.
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the job, dropping it for
// subscribers whose buffers are full. Terminal events close and remove all
// subscriptions for the job.
func (b *broadcaster) Publish(jobID string, ev model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[jobID] {
		select {
		case ch <- ev:
		default:
		}
	}

	if ev.Stage == model.StageComplete || ev.Stage == model.StageError {
		for _, ch := range b.subs[jobID] {
			close(ch)
		}
		delete(b.subs, jobID)
	}
}
