package ot

import (
	"testing"

	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ins(pos int, text string, author string, ts int64) domain.Operation {
	return domain.Operation{Kind: domain.OpInsert, Position: pos, Text: text, AuthorID: author, Timestamp: ts}
}

func del(pos, length int, author string, ts int64) domain.Operation {
	return domain.Operation{Kind: domain.OpDelete, Position: pos, Length: length, AuthorID: author, Timestamp: ts}
}

// Scenario 1 from the testable-properties list: two concurrent inserts at
// position 0, U1 wins the tie by earlier timestamp, producing "hiHI".
func TestConcurrentInsertAtSameVersion(t *testing.T) {
	u1 := []domain.Operation{ins(0, "hi", "u1", 100)}
	u2 := []domain.Operation{ins(0, "HI", "u2", 200)}

	u2Prime := TransformBatch(u2, u1)
	u1Prime := TransformBatch(u1, u2)

	bufAfterU1 := ""
	bufAfterU1, err := Apply(bufAfterU1, u1)
	require.NoError(t, err)

	bufFinal, err := Apply(bufAfterU1, u2Prime)
	require.NoError(t, err)
	assert.Equal(t, "hiHI", bufFinal)

	// convergence: applying B then A' gives the same result as A then B'.
	altBuf, err := Apply("", u2)
	require.NoError(t, err)
	altFinal, err := Apply(altBuf, u1Prime)
	require.NoError(t, err)
	assert.Equal(t, bufFinal, altFinal)
}

func TestInsertVsInsert_NoTie(t *testing.T) {
	op := ins(5, "x", "a", 1)
	against := ins(2, "yy", "b", 1)
	transformed := TransformOp(op, against)
	assert.Equal(t, 7, transformed.Position)
}

func TestInsertVsDelete_InsideDeletedRangeClamps(t *testing.T) {
	op := ins(5, "x", "a", 1)
	against := del(2, 10, "b", 1) // deletes [2,12)
	transformed := TransformOp(op, against)
	assert.Equal(t, 2, transformed.Position)
}

func TestDeleteVsInsert_Overlapping(t *testing.T) {
	op := del(2, 5, "a", 1) // deletes [2,7)
	against := ins(4, "zzz", "b", 1)
	transformed := TransformOp(op, against)
	assert.Equal(t, 2, transformed.Position)
	assert.Equal(t, 8, transformed.Length) // grew by len("zzz")
}

func TestDeleteVsDelete_Disjoint(t *testing.T) {
	op := del(10, 3, "a", 1) // [10,13)
	against := del(0, 5, "b", 1) // [0,5)
	transformed := TransformOp(op, against)
	assert.Equal(t, 5, transformed.Position)
	assert.Equal(t, 3, transformed.Length)
}

func TestDeleteVsDelete_Overlapping(t *testing.T) {
	op := del(2, 5, "a", 1) // [2,7)
	against := del(4, 5, "b", 1) // [4,9)
	transformed := TransformOp(op, against)
	assert.Equal(t, 2, transformed.Position)
	assert.Equal(t, 7, transformed.Length) // union [2,9)
}

func TestApply_LengthArithmetic(t *testing.T) {
	buf := "hello world"
	ops := []domain.Operation{
		ins(5, ",", "a", 1),
		del(0, 1, "a", 1),
	}
	out, err := Apply(buf, ops)
	require.NoError(t, err)
	assert.Equal(t, len(buf)+1-1, len(out))
}

func TestApply_OutOfBoundsRejected(t *testing.T) {
	_, err := Apply("short", []domain.Operation{ins(100, "x", "a", 1)})
	assert.ErrorIs(t, err, ErrInvalidEdit)

	_, err = Apply("short", []domain.Operation{del(0, 100, "a", 1)})
	assert.ErrorIs(t, err, ErrInvalidEdit)
}

func TestCompose_MergesAdjacentInserts(t *testing.T) {
	ops := []domain.Operation{
		ins(0, "ab", "a", 1),
		ins(2, "cd", "a", 1),
	}
	composed := Compose(ops)
	require.Len(t, composed, 1)
	assert.Equal(t, "abcd", composed[0].Text)
}

func TestCompose_MergesAdjacentDeletesAtSamePosition(t *testing.T) {
	ops := []domain.Operation{
		del(3, 2, "a", 1),
		del(3, 4, "a", 1),
	}
	composed := Compose(ops)
	require.Len(t, composed, 1)
	assert.Equal(t, 6, composed[0].Length)
}

func TestRetain_NeverShiftsBufferButTracksBounds(t *testing.T) {
	op := domain.Operation{Kind: domain.OpRetain, Position: 5, Length: 3}
	against := ins(2, "xx", "a", 1)
	transformed := TransformOp(op, against)
	assert.Equal(t, 7, transformed.Position)
	assert.Equal(t, 3, transformed.Length)
}
