package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSorted(t *testing.T) {
	a := MustParse("00000000-0000-7000-8000-000000000001")
	b := MustParse("00000000-0000-7000-8000-000000000002")
	c := MustParse("ffffffff-0000-7000-8000-000000000000")

	assert.Equal(t, []ID{a, b, c}, Sorted([]ID{c, a, b, a}))
	assert.Empty(t, Sorted(nil))
}
