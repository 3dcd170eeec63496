// internal/models/application_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplicationStateTransitions(t *testing.T) {
	cases := []struct {
		from    ApplicationState
		to      ApplicationState
		allowed bool
	}{
		{ApplicationStateSubmitted, ApplicationStateResubmit, true},
		{ApplicationStateSubmitted, ApplicationStateApproved, true},
		{ApplicationStateSubmitted, ApplicationStateRejected, true},
		{ApplicationStateSubmitted, ApplicationStateCompleted, false},
		{ApplicationStateApproved, ApplicationStateCompleted, true},
		{ApplicationStateApproved, ApplicationStateRejected, false},
		{ApplicationStateApproved, ApplicationStateSubmitted, false},
		{ApplicationStateRejected, ApplicationStateApproved, false},
		{ApplicationStateCompleted, ApplicationStateApproved, false},
		{ApplicationStateResubmit, ApplicationStateApproved, false},
	}

	for _, tc := range cases {
		app := &Application{State: tc.from}
		assert.Equal(t, tc.allowed, app.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestApplicationCanResubmit(t *testing.T) {
	assert.True(t, (&Application{State: ApplicationStateResubmit}).CanResubmit())
	assert.True(t, (&Application{State: ApplicationStateRejected}).CanResubmit())
	assert.False(t, (&Application{State: ApplicationStateSubmitted}).CanResubmit())
	assert.False(t, (&Application{State: ApplicationStateApproved}).CanResubmit())
	assert.False(t, (&Application{State: ApplicationStateCompleted}).CanResubmit())
}

func TestApplicationStateTerminal(t *testing.T) {
	assert.True(t, ApplicationStateRejected.Terminal())
	assert.True(t, ApplicationStateCompleted.Terminal())
	assert.False(t, ApplicationStateSubmitted.Terminal())
	assert.False(t, ApplicationStateResubmit.Terminal())
	assert.False(t, ApplicationStateApproved.Terminal())
}

func TestApplicationStateValid(t *testing.T) {
	assert.True(t, ApplicationStateSubmitted.Valid())
	assert.True(t, ApplicationStateCompleted.Valid())
	assert.False(t, ApplicationState("draft").Valid())
	assert.False(t, ApplicationState("").Valid())
}

func TestApplicationOpen(t *testing.T) {
	assert.True(t, (&Application{State: ApplicationStateSubmitted}).Open())
	assert.True(t, (&Application{State: ApplicationStateApproved}).Open())
	assert.False(t, (&Application{State: ApplicationStateCompleted}).Open())
}
