package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsInt(t *testing.T) {
	vals := []int{1, 2, 3}
	assert.True(t, ContainsInt(2, vals))
	assert.False(t, ContainsInt(4, vals))
	assert.False(t, ContainsInt(1, nil))
}

func TestComplement(t *testing.T) {
	assert.Equal(t, []int{1, 3}, Complement([]int{1, 2, 3}, []int{2, 4}))
	assert.Equal(t, []int{}, Complement([]int{1, 2}, []int{1, 2}))
	assert.Equal(t, []int{1, 2}, Complement([]int{1, 2}, nil))
}
