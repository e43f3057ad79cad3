package portal

import (
	"testing"

	"github.com/BearBump/DeedBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	e := NewError(FailureTimeout, "readiness", nil)
	require.Equal(t, FailureTimeout, CodeOf(e))

	wrapped := errors.Wrap(NewError(FailureValidationRejected, "property not found", nil), "fulfill")
	require.Equal(t, FailureValidationRejected, CodeOf(wrapped))

	require.Equal(t, FailureSessionError, CodeOf(errors.New("broken pipe")))
}

func TestFatal(t *testing.T) {
	require.True(t, Fatal(FailureValidationRejected))
	require.False(t, Fatal(FailureTimeout))
	require.False(t, Fatal(FailureElementNotFound))
	require.False(t, Fatal(FailureSessionError))
}

func TestServiceLabels_CoverAllServices(t *testing.T) {
	for st := range models.ServicePriceAgorot {
		require.NotEmpty(t, ServiceLabels[st], "service %s has no portal label", st)
	}
}
