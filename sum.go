package fmodel

import "fmt"

// Sum is a tagged union holding either an L or an R.
// The zero value is Left with the zero L.
type Sum[L, R any] struct {
	left    L
	right   R
	isRight bool
}

// Left tags v as the left variant.
func Left[L, R any](v L) Sum[L, R] {
	return Sum[L, R]{left: v}
}

// Right tags v as the right variant.
func Right[L, R any](v R) Sum[L, R] {
	return Sum[L, R]{right: v, isRight: true}
}

// IsLeft reports whether s holds the left variant.
func (s Sum[L, R]) IsLeft() bool {
	return !s.isRight
}

// LeftValue returns the left value and true if s is Left.
func (s Sum[L, R]) LeftValue() (L, bool) {
	return s.left, !s.isRight
}

// RightValue returns the right value and true if s is Right.
func (s Sum[L, R]) RightValue() (R, bool) {
	return s.right, s.isRight
}

// Value returns the held value, whichever variant it is.
func (s Sum[L, R]) Value() any {
	if s.isRight {
		return s.right
	}
	return s.left
}

// String implements fmt.Stringer.
func (s Sum[L, R]) String() string {
	if s.isRight {
		return fmt.Sprintf("Right(%v)", s.right)
	}
	return fmt.Sprintf("Left(%v)", s.left)
}

// Match applies onLeft or onRight depending on the variant of s.
func Match[L, R, T any](s Sum[L, R], onLeft func(L) T, onRight func(R) T) T {
	if s.isRight {
		return onRight(s.right)
	}
	return onLeft(s.left)
}

// Pair is the product of two states.
type Pair[A, B any] struct {
	First  A `json:"first" msgpack:"first"`
	Second B `json:"second" msgpack:"second"`
}

// MakePair builds a Pair.
func MakePair[A, B any](first A, second B) Pair[A, B] {
	return Pair[A, B]{First: first, Second: second}
}

// unwrapValue strips any number of Sum layers from v.
func unwrapValue(v any) any {
	for {
		s, ok := v.(interface{ Value() any })
		if !ok {
			return v
		}
		v = s.Value()
	}
}
