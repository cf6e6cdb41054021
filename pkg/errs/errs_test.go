package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"transient", Transientf("node lagging"), IsTransient},
		{"permanent", Permanentf("blocks mismatch"), IsPermanent},
		{"validation", Validationf("bad commitment"), IsValidation},
		{"auth", Auth(errors.New("rejected")), IsAuth},
		{"config", Configf("bad range"), IsConfig},
		{"subscription", Subscriptionf("stream closed"), IsSubscription},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.True(t, test.check(test.err))

			for _, other := range tests {
				if other.name != test.name {
					require.False(t, other.check(test.err))
				}
			}
		})
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	err := Transient(errors.New("connection refused"))
	wrapped := errors.Wrap(errors.Wrap(err, "fetching slot"), "worker 3")

	require.True(t, IsTransient(wrapped))
	require.False(t, IsPermanent(wrapped))
	require.Contains(t, wrapped.Error(), "connection refused")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")

	require.ErrorIs(t, Transient(cause), cause)
	require.ErrorIs(t, Permanent(cause), cause)
}

func TestNilChecks(t *testing.T) {
	require.False(t, IsTransient(nil))
	require.False(t, IsPermanent(nil))
	require.False(t, IsAuth(nil))
}
