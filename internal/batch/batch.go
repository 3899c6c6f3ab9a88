// Package batch partitions a recipient list into fixed-size groups so the
// coordinator can bound how many sends one job puts in flight at once.
package batch

import (
	"iter"

	"github.com/minutecast/minutecast/internal/domain"
)

// DefaultSize is the number of recipients per group when the caller does not
// override it.
const DefaultSize = 50

// Groups returns a restartable sequence of fixed-size recipient groups in
// input order; the final group may be short. Groups is pure: it never copies
// recipients, touches the network, or mutates its input. size <= 0 falls
// back to DefaultSize.
func Groups(recipients []domain.Recipient, size int) iter.Seq[[]domain.Recipient] {
	if size <= 0 {
		size = DefaultSize
	}
	return func(yield func([]domain.Recipient) bool) {
		for start := 0; start < len(recipients); start += size {
			end := start + size
			if end > len(recipients) {
				end = len(recipients)
			}
			if !yield(recipients[start:end]) {
				return
			}
		}
	}
}

// Count returns the number of groups Groups will produce.
func Count(total, size int) int {
	if size <= 0 {
		size = DefaultSize
	}
	if total == 0 {
		return 0
	}
	return (total + size - 1) / size
}
