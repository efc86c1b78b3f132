package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("bad split"), KindValidation},
		{"wrapped conflict", fmt.Errorf("create expense: %w", Conflict("key reused")), KindConflict},
		{"persistence", Persistence(errors.New("disk full"), "failed to commit"), KindPersistence},
		{"untagged", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("run: %w", Processing("request in flight"))
	assert.ErrorIs(t, err, ErrProcessing)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestPersistenceUnwraps(t *testing.T) {
	cause := errors.New("database is locked")
	err := Persistence(cause, "failed to begin transaction")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to begin transaction: database is locked", err.Error())
	assert.Nil(t, Persistence(nil, "noop"))
}
