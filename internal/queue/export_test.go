package queue

import "time"

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetBatchSize replaces the page size of the maintenance scans.
func (s *Service) SetBatchSize(n int) { s.batch = n }
