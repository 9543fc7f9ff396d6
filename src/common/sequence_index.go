package common

import "sort"

// SequenceIndex groups keys by a sequence number, such as a generation or a
// birth round, and drops whole groups when the lower bound moves past them.
// It is not safe for concurrent use.
type SequenceIndex[K comparable] struct {
	floor   int64
	buckets map[int64][]K
	size    int
}

// NewSequenceIndex creates an index that accepts sequence numbers >= floor.
func NewSequenceIndex[K comparable](floor int64) *SequenceIndex[K] {
	return &SequenceIndex[K]{
		floor:   floor,
		buckets: make(map[int64][]K),
	}
}

// Floor is the lowest sequence number still accepted.
func (s *SequenceIndex[K]) Floor() int64 {
	return s.floor
}

// Len returns the number of keys held.
func (s *SequenceIndex[K]) Len() int {
	return s.size
}

// Add files key under seq. It returns false, and stores nothing, if seq is
// below the floor.
func (s *SequenceIndex[K]) Add(seq int64, key K) bool {
	if seq < s.floor {
		return false
	}
	s.buckets[seq] = append(s.buckets[seq], key)
	s.size++
	return true
}

// Remove deletes one occurrence of key from the seq group.
func (s *SequenceIndex[K]) Remove(seq int64, key K) bool {
	bucket := s.buckets[seq]
	for i, k := range bucket {
		if k == key {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(s.buckets, seq)
			} else {
				s.buckets[seq] = bucket
			}
			s.size--
			return true
		}
	}
	return false
}

// ShiftWindow raises the floor and hands every key below it to removed, lowest
// sequence first. A floor lower than the current one is ignored.
func (s *SequenceIndex[K]) ShiftWindow(floor int64, removed func(seq int64, key K)) {
	if floor <= s.floor {
		return
	}

	for _, seq := range s.sequencesIn(s.floor, floor) {
		for _, k := range s.buckets[seq] {
			s.size--
			if removed != nil {
				removed(seq, k)
			}
		}
		delete(s.buckets, seq)
	}

	s.floor = floor
}

// Range calls fn for every key with low <= seq < high, lowest sequence first.
func (s *SequenceIndex[K]) Range(low, high int64, fn func(seq int64, key K)) {
	for _, seq := range s.sequencesIn(low, high) {
		for _, k := range s.buckets[seq] {
			fn(seq, k)
		}
	}
}

// sequencesIn lists the occupied sequence numbers in [low, high), sorted. It
// walks whichever is smaller, the interval or the map.
func (s *SequenceIndex[K]) sequencesIn(low, high int64) []int64 {
	res := []int64{}
	if high <= low {
		return res
	}

	if high-low <= int64(len(s.buckets)) {
		for seq := low; seq < high; seq++ {
			if _, ok := s.buckets[seq]; ok {
				res = append(res, seq)
			}
		}
		return res
	}

	for seq := range s.buckets {
		if seq >= low && seq < high {
			res = append(res, seq)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}
