package main

import "fmt"

// defaultWindowEpochs is the number of completed epochs measured when no range is given.
const defaultWindowEpochs = 5

// resolveWindow fills unset (negative) bounds relative to the current epoch:
// to defaults to current-1 and from to to-(defaultWindowEpochs-1).
func resolveWindow(current uint64, from, to int64) (uint64, uint64, error) {
	if to < 0 {
		if current == 0 {
			return 0, 0, fmt.Errorf("no completed epoch before epoch %d", current)
		}
		to = int64(current) - 1
	}
	if to >= int64(current) {
		return 0, 0, fmt.Errorf("to epoch %d is not completed, current epoch is %d", to, current)
	}
	if from < 0 {
		from = max(to-(defaultWindowEpochs-1), 0)
	}
	return uint64(from), uint64(to), nil
}
