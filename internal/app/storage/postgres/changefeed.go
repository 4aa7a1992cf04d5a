package postgres

import "github.com/r3e-network/fraudctl/internal/app/storage"

// OnModelActivated registers fn against the underlying catalogbus.Feed.
func (s *Store) OnModelActivated(fn func(storage.ModelActivatedEvent)) { s.feed.OnModelActivated(fn) }

// OnAlertRaised registers fn against the underlying catalogbus.Feed.
func (s *Store) OnAlertRaised(fn func(storage.AlertRaisedEvent)) { s.feed.OnAlertRaised(fn) }

// OnJobStateChanged registers fn against the underlying catalogbus.Feed.
func (s *Store) OnJobStateChanged(fn func(storage.JobStateChangedEvent)) {
	s.feed.OnJobStateChanged(fn)
}
