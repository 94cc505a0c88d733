package store

import "sync"

// Subscription delivers registry snapshots. A slow reader only ever sees
// the newest snapshot; older ones are dropped.
type Subscription struct {
	updates chan []DownloadedTrack
	feed    *feed
	once    sync.Once
}

// Updates returns the snapshot channel. It is closed by Close.
func (s *Subscription) Updates() <-chan []DownloadedTrack {
	return s.updates
}

// Close stops delivery and closes the Updates channel
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.remove(s)
	})
}

type feed struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
}

func newFeed() *feed {
	return &feed{subscribers: make(map[*Subscription]struct{})}
}

func (f *feed) subscribe(initial []DownloadedTrack) *Subscription {
	sub := &Subscription{
		updates: make(chan []DownloadedTrack, 1),
		feed:    f,
	}
	sub.updates <- initial

	f.mu.Lock()
	f.subscribers[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

func (f *feed) publish(tracks []DownloadedTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subscribers {
		snapshot := make([]DownloadedTrack, len(tracks))
		copy(snapshot, tracks)

		// Replace an unread snapshot with the newer one
		select {
		case <-sub.updates:
		default:
		}
		sub.updates <- snapshot
	}
}

func (f *feed) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subscribers[sub]; ok {
		delete(f.subscribers, sub)
		close(sub.updates)
	}
}

func (f *feed) closeAll() {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subscribers))
	for sub := range f.subscribers {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
