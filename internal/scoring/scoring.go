// Package scoring computes exam points for a question and a user's selection.
//
// Single-choice and true/false questions are worth 2 points, all or nothing.
// Multiple-choice questions are worth 4: a perfect selection earns all 4,
// anything else earns one point per correct decision minus one per wrong
// decision over the question's options, floored at zero.
package scoring

import "github.com/pavelanni/mockexam/internal/model"

// Score returns the points earned by sel on q and the most q can earn.
func Score(q model.Question, sel model.Selection) (points, maxPoints int) {
	maxPoints = q.Type.MaxPoints()
	if len(q.Correct) == 0 {
		return 0, maxPoints
	}
	if q.Type != model.TypeMultipleChoice {
		if len(sel) == 1 && q.IsCorrect(sel[0]) {
			return maxPoints, maxPoints
		}
		return 0, maxPoints
	}
	if sel.Equal(q.Correct) {
		return maxPoints, maxPoints
	}
	good, bad := decisions(q, sel)
	return clamp(good-bad, 0, maxPoints), maxPoints
}

// decisions counts correct and wrong select/leave judgments. Selected labels
// outside the option set count as wrong selections.
func decisions(q model.Question, sel model.Selection) (good, bad int) {
	for _, l := range sel {
		if q.IsCorrect(l) {
			good++
		} else {
			bad++
		}
	}
	for _, l := range q.OptionLabels() {
		if sel.Contains(l) {
			continue
		}
		if q.IsCorrect(l) {
			bad++
		} else {
			good++
		}
	}
	return good, bad
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// Item pairs a question with the selection recorded for it.
type Item struct {
	Question  model.Question
	Selection model.Selection
}

// Total sums Score over items in order.
func Total(items []Item) (total, totalMax int) {
	for _, it := range items {
		p, m := Score(it.Question, it.Selection)
		total += p
		totalMax += m
	}
	return total, totalMax
}

// Perfect reports whether sel earns full marks on q.
func Perfect(q model.Question, sel model.Selection) bool {
	p, m := Score(q, sel)
	return p == m
}
