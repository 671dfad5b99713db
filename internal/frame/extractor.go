package frame

import "time"

// Extractor names the two window reads the pipeline performs: the short
// window continuously monitored for incidents and the long window used to
// reconstruct context once one is suspected.
type Extractor struct {
	Short time.Duration
	Long  time.Duration
}

func (e Extractor) ShortWindow(s *Store) Snapshot {
	return s.Snapshot(e.Short)
}

func (e Extractor) LongWindow(s *Store) Snapshot {
	return s.Snapshot(e.Long)
}
