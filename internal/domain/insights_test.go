package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aperta-labs/bloghound/internal/domain"
)

func TestValidConfidenceAcceptsOnlyOneThroughFive(t *testing.T) {
	t.Parallel()

	for _, c := range []int{1, 2, 3, 4, 5} {
		assert.True(t, domain.ValidConfidence(c), "expected %d to be valid", c)
	}
	for _, c := range []int{0, -1, 6, 100} {
		assert.False(t, domain.ValidConfidence(c), "expected %d to be invalid", c)
	}
}
