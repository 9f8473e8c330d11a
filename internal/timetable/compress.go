package timetable

import (
	"slices"

	"schoolcal/internal/models"
)

// Compress merges runs of identical lessons into blocks, sorted by start.
//
// Two lessons merge only when subject, class, teacher and room are equal and
// the earlier one ends at exactly the instant the later one starts. Lessons
// that overlap without touching are kept apart.
func Compress(lessons []models.Lesson) ([]models.Block, error) {
	if len(lessons) == 0 {
		return nil, nil
	}

	sorted := slices.Clone(lessons)
	slices.SortStableFunc(sorted, func(a, b models.Lesson) int {
		return a.Start.Compare(b.Start)
	})

	blocks := make([]models.Block, 0, len(sorted))
	current := sorted[0]
	for _, l := range sorted[1:] {
		if current.SameSeries(l) && current.End.Equal(l.Start) {
			current.End = l.End
			continue
		}
		if current.End.Before(current.Start) {
			return nil, &ClockSkewError{Block: current}
		}
		blocks = append(blocks, current)
		current = l
	}
	if current.End.Before(current.Start) {
		return nil, &ClockSkewError{Block: current}
	}
	blocks = append(blocks, current)

	return blocks, nil
}

// CountOverlaps returns the number of adjacent block pairs where a block
// ends after its successor starts.
func CountOverlaps(blocks []models.Block) int {
	n := 0
	for i := 1; i < len(blocks); i++ {
		if blocks[i-1].End.After(blocks[i].Start) {
			n++
		}
	}
	return n
}
