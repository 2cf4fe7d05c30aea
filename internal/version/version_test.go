package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/pairdb/txlog/internal/version"
)

func TestBoundary(t *testing.T) {
	b := version.Boundary(42)
	assert.True(t, b.IsBoundary())
	assert.Equal(t, uint64(42), b.Version)
}

func TestLess(t *testing.T) {
	tests := []struct {
		name string
		a, b version.MessageVersion
		want bool
	}{
		{"lower version wins", version.MessageVersion{Version: 1, Subsequence: 5}, version.MessageVersion{Version: 2, Subsequence: 0}, true},
		{"same version lower subsequence wins", version.MessageVersion{Version: 5, Subsequence: 1}, version.MessageVersion{Version: 5, Subsequence: 2}, true},
		{"equal is not less", version.MessageVersion{Version: 5, Subsequence: 1}, version.MessageVersion{Version: 5, Subsequence: 1}, false},
		{"higher version loses", version.MessageVersion{Version: 9, Subsequence: 0}, version.MessageVersion{Version: 5, Subsequence: 9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Less(tt.b))
		})
	}
}

func TestLessOrEqual(t *testing.T) {
	v := version.MessageVersion{Version: 5, Subsequence: 1}
	assert.True(t, v.LessOrEqual(v))
	assert.True(t, v.LessOrEqual(version.MessageVersion{Version: 5, Subsequence: 2}))
	assert.False(t, v.LessOrEqual(version.MessageVersion{Version: 5, Subsequence: 0}))
}

func TestMinMax(t *testing.T) {
	a := version.MessageVersion{Version: 1, Subsequence: 0}
	b := version.MessageVersion{Version: 2, Subsequence: 0}
	assert.Equal(t, a, version.Min(a, b))
	assert.Equal(t, b, version.Max(a, b))
}
