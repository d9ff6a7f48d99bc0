package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

func TestCompute_Deterministic(t *testing.T) {
	a := Compute("R", "main", "abc123", model.DepthFast)
	b := Compute("R", "main", "abc123", model.DepthFast)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", a)
}

func TestCompute_SensitiveToEachField(t *testing.T) {
	base := Compute("R", "main", "abc123", model.DepthFast)

	assert.NotEqual(t, base, Compute("R2", "main", "abc123", model.DepthFast))
	assert.NotEqual(t, base, Compute("R", "dev", "abc123", model.DepthFast))
	assert.NotEqual(t, base, Compute("R", "main", "abc124", model.DepthFast))
	assert.NotEqual(t, base, Compute("R", "main", "abc123", model.DepthDeep))
}

func TestCompute_NoBoundaryCollision(t *testing.T) {
	assert.NotEqual(t,
		Compute("ab", "c", "x", model.DepthFast),
		Compute("a", "bc", "x", model.DepthFast),
	)
}

func TestValidateCommitRef(t *testing.T) {
	tests := []struct {
		name   string
		commit string
		want   error
	}{
		{name: "short sha", commit: "abc123"},
		{name: "full sha", commit: "9fceb02d0ae598e95dc970b74767f19372d61af8"},
		{name: "empty", commit: "  ", want: ErrCommitRequired},
		{name: "epoch seconds", commit: "1717171717", want: ErrCommitLooksLikeTimestamp},
		{name: "epoch millis", commit: "1717171717000", want: ErrCommitLooksLikeTimestamp},
		{name: "rfc3339", commit: "2024-05-31T12:00:00Z", want: ErrCommitLooksLikeTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommitRef(tt.commit)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
