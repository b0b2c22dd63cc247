package metrics

import "time"

// Nop discards everything. Used when no metrics listener is configured and in tests.
type Nop struct{}

func (Nop) RecordCacheLookup(string) {}
func (Nop) RecordRemoteRead(time.Duration, error) {}
func (Nop) RecordLiveDelivery() {}
func (Nop) RecordStaleDiscard() {}
func (Nop) RecordMutation(string, error) {}
func (Nop) RecordStreakRecomputeFailure() {}
func (Nop) RecordStreak(int, int) {}
func (Nop) RecordCachePurged(int64) {}
