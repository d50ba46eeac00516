package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByCode(t *testing.T) {
	err := NotFoundf("job %d not found", 7)

	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrConflict))
	assert.Equal(t, "job 7 not found", err.Error())
}

func TestStageFailure_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("pdf header missing")
	err := StageFailure("classification", cause)

	assert.True(t, Is(err, ErrStageFailure))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "pdf header missing")
}

func TestWrappedDomainErrorStillMatches(t *testing.T) {
	err := fmt.Errorf("service: %w", Timeout("layout_analysis", nil))

	assert.True(t, Is(err, ErrTimeout))
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeValidation, http.StatusBadRequest},
		{CodeConflict, http.StatusConflict},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeStageFailure, http.StatusUnprocessableEntity},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestWithDetails_DoesNotMutateSentinel(t *testing.T) {
	err := ErrValidation.WithDetails([]string{"overlap"})

	assert.Nil(t, ErrValidation.Details)
	assert.Equal(t, []string{"overlap"}, err.Details)
}
