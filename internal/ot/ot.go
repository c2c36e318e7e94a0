// Package ot implements the operation-based transformation engine that lets
// the room hub reconcile concurrent character-level edits into one
// converging document.
package ot

import (
	"errors"
	"fmt"

	"github.com/codecollab/editor-backend/internal/domain"
)

// ErrInvalidEdit is returned when a batch references a position or range
// outside the current buffer. The caller resyncs the submitting socket with
// a full snapshot rather than treating this as a fatal error.
var ErrInvalidEdit = errors.New("invalid_edit")

// TransformOp transforms op against a concurrent operation against, per the
// pairwise rules for the given kind combination. Ties on insert-vs-insert at
// the same position are broken by (timestamp, author): the lower one wins
// the left position.
func TransformOp(op, against domain.Operation) domain.Operation {
	switch op.Kind {
	case domain.OpInsert:
		return transformInsert(op, against)
	case domain.OpDelete:
		return transformDelete(op, against)
	case domain.OpRetain:
		return transformRetain(op, against)
	default:
		return op
	}
}

func wins(op, against domain.Operation) bool {
	if op.Timestamp != against.Timestamp {
		return op.Timestamp < against.Timestamp
	}
	return op.AuthorID < against.AuthorID
}

func insertLen(op domain.Operation) int {
	return len([]rune(op.Text))
}

func transformInsert(op, against domain.Operation) domain.Operation {
	switch against.Kind {
	case domain.OpInsert:
		switch {
		case op.Position < against.Position:
			return op
		case op.Position > against.Position:
			op.Position += insertLen(against)
			return op
		default:
			if wins(op, against) {
				return op
			}
			op.Position += insertLen(against)
			return op
		}
	case domain.OpDelete:
		end := against.Position + against.Length
		switch {
		case op.Position <= against.Position:
			return op
		case op.Position >= end:
			op.Position -= against.Length
			return op
		default:
			op.Position = against.Position
			return op
		}
	default: // retain never shifts the buffer
		return op
	}
}

func transformDelete(op, against domain.Operation) domain.Operation {
	a1, a2 := op.Position, op.Position+op.Length
	switch against.Kind {
	case domain.OpInsert:
		switch {
		case a2 <= against.Position:
			return op
		case op.Position >= against.Position:
			op.Position += insertLen(against)
			return op
		default:
			// overlapping: the deleted range grows to absorb the insert
			op.Length += insertLen(against)
			return op
		}
	case domain.OpDelete:
		b1, b2 := against.Position, against.Position+against.Length
		switch {
		case a2 <= b1:
			return op
		case a1 >= b2:
			op.Position -= against.Length
			return op
		default:
			start := minInt(a1, b1)
			end := maxInt(a2, b2)
			op.Position = start
			op.Length = end - start
			return op
		}
	default:
		return op
	}
}

func transformRetain(op, against domain.Operation) domain.Operation {
	a1, a2 := op.Position, op.Position+op.Length
	switch against.Kind {
	case domain.OpInsert:
		switch {
		case against.Position >= a2:
			return op
		case against.Position <= a1:
			op.Position += insertLen(against)
			return op
		default:
			op.Length += insertLen(against)
			return op
		}
	case domain.OpDelete:
		b1, b2 := against.Position, against.Position+against.Length
		switch {
		case a2 <= b1:
			return op
		case a1 >= b2:
			op.Position -= against.Length
			return op
		default:
			overlap := minInt(a2, b2) - maxInt(a1, b1)
			if overlap < 0 {
				overlap = 0
			}
			op.Position = minInt(a1, b1)
			op.Length -= overlap
			if op.Length < 0 {
				op.Length = 0
			}
			return op
		}
	default:
		return op
	}
}

// TransformBatch transforms every operation in batch against the sequence of
// operations in against, applied in the order they were accepted. This is
// how the hub reconciles an incoming batch against every batch recorded
// since the submitter's base version.
func TransformBatch(batch, against []domain.Operation) []domain.Operation {
	out := make([]domain.Operation, len(batch))
	copy(out, batch)
	for i := range out {
		for _, b := range against {
			out[i] = TransformOp(out[i], b)
		}
	}
	return out
}

// Compose merges adjacent compatible operations in a batch before it is
// broadcast, keeping the wire payload small.
func Compose(ops []domain.Operation) []domain.Operation {
	if len(ops) == 0 {
		return ops
	}
	out := make([]domain.Operation, 0, len(ops))
	cur := ops[0]
	for _, next := range ops[1:] {
		switch {
		case cur.Kind == domain.OpInsert && next.Kind == domain.OpInsert &&
			cur.Position+insertLen(cur) == next.Position:
			cur.Text += next.Text
		case cur.Kind == domain.OpDelete && next.Kind == domain.OpDelete &&
			cur.Position == next.Position:
			cur.Length += next.Length
		case cur.Kind == domain.OpRetain && next.Kind == domain.OpRetain &&
			cur.Position+cur.Length == next.Position:
			cur.Length += next.Length
		default:
			out = append(out, cur)
			cur = next
		}
	}
	return append(out, cur)
}

// Apply applies ops in order to buffer, validating that every position and
// range stays within bounds. On the first out-of-bounds operation it
// returns ErrInvalidEdit and the buffer is left unmodified.
func Apply(buffer string, ops []domain.Operation) (string, error) {
	runes := []rune(buffer)
	for _, op := range ops {
		switch op.Kind {
		case domain.OpInsert:
			if op.Position < 0 || op.Position > len(runes) {
				return "", ErrInvalidEdit
			}
			ins := []rune(op.Text)
			merged := make([]rune, 0, len(runes)+len(ins))
			merged = append(merged, runes[:op.Position]...)
			merged = append(merged, ins...)
			merged = append(merged, runes[op.Position:]...)
			runes = merged
		case domain.OpDelete:
			end := op.Position + op.Length
			if op.Position < 0 || op.Length <= 0 || end > len(runes) {
				return "", ErrInvalidEdit
			}
			merged := make([]rune, 0, len(runes)-op.Length)
			merged = append(merged, runes[:op.Position]...)
			merged = append(merged, runes[end:]...)
			runes = merged
		case domain.OpRetain:
			end := op.Position + op.Length
			if op.Position < 0 || op.Length <= 0 || end > len(runes) {
				return "", ErrInvalidEdit
			}
		default:
			return "", fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}
	return string(runes), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
