package machine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(*Context, *empty, Event) error { return nil }

func TestBuildValid(t *testing.T) {
	mt, err := NewType[empty]("Door", nil).
		State("Closed").Initial().
		Goto("Open", "Opened").
		Defer("Lock").
		State("Opened").
		On("Close", noop).
		Ignore("Open").
		State("Ajar").Parent("Opened").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "Door", mt.Name())
	assert.False(t, mt.IsMonitor())
	assert.Equal(t, "Closed", mt.InitialState().Name())
	require.Len(t, mt.States(), 3)

	ajar, ok := mt.State("Ajar")
	require.True(t, ok)
	assert.Equal(t, "Door.Ajar", ajar.QualifiedName())
	assert.Equal(t, "Opened", ajar.Parent().Name())
	assert.True(t, ajar.Handles("Close"), "bindings are inherited from the parent")

	closed, _ := mt.State("Closed")
	assert.True(t, closed.Handles("Open"))
	assert.False(t, closed.Handles("Lock"))
}

func TestBuildMonitor(t *testing.T) {
	mt, err := NewMonitor[empty]("Liveness", nil).
		State("Idle").Initial().Cold().
		State("Busy").Hot().
		Build()
	require.NoError(t, err)
	assert.True(t, mt.IsMonitor())
	busy, _ := mt.State("Busy")
	assert.Equal(t, Hot, busy.Temperature())
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name  string
		build func() (*MachineType, error)
		want  string
	}{
		{
			name:  "empty name",
			build: func() (*MachineType, error) { return NewType[empty]("", nil).State("A").Initial().Build() },
			want:  "name cannot be empty",
		},
		{
			name:  "no states",
			build: NewType[empty]("M", nil).Build,
			want:  "no states declared",
		},
		{
			name: "no initial",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Build()
			},
			want: "no initial state",
		},
		{
			name: "two initial",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().State("B").Initial().Build()
			},
			want: `states "A" and "B" are both initial`,
		},
		{
			name: "duplicate state",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().State("A").Build()
			},
			want: `duplicate state "A"`,
		},
		{
			name: "unknown target",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().Goto("X", "Nowhere").Build()
			},
			want: `target "Nowhere" does not exist`,
		},
		{
			name: "event bound twice",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().On("X", noop).Goto("X", "A").Build()
			},
			want: `event "X" bound twice`,
		},
		{
			name: "handled and deferred",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().On("X", noop).Defer("X").Build()
			},
			want: `event "X" is both handled and deferred`,
		},
		{
			name: "deferred and ignored",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().Defer("X").Ignore("X").Build()
			},
			want: `event "X" is both deferred and ignored`,
		},
		{
			name: "hot machine state",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().Hot().Build()
			},
			want: "only monitor states can be hot or cold",
		},
		{
			name: "monitor push",
			build: func() (*MachineType, error) {
				return NewMonitor[empty]("M", nil).State("A").Initial().Push("X", "A").Build()
			},
			want: "monitors cannot push states",
		},
		{
			name: "monitor defer",
			build: func() (*MachineType, error) {
				return NewMonitor[empty]("M", nil).State("A").Initial().Defer("X").Build()
			},
			want: "monitors cannot defer events",
		},
		{
			name: "nil handler",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().On("X", nil).Build()
			},
			want: `nil handler for event "X"`,
		},
		{
			name: "unknown parent",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).State("A").Initial().Parent("Z").Build()
			},
			want: `unknown parent "Z"`,
		},
		{
			name: "parent cycle",
			build: func() (*MachineType, error) {
				return NewType[empty]("M", nil).
					State("A").Initial().Parent("B").
					State("B").Parent("A").
					Build()
			},
			want: "parent chain forms a cycle",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mt, err := tc.build()
			require.Error(t, err)
			assert.Nil(t, mt)
			assert.True(t, errors.Is(err, ErrInvalidDefinition))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBuildReportsAllProblems(t *testing.T) {
	_, err := NewType[empty]("M", nil).
		State("A").Goto("X", "Nowhere").
		State("A").
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no initial state")
	assert.Contains(t, err.Error(), `duplicate state "A"`)
	assert.Contains(t, err.Error(), `target "Nowhere" does not exist`)
}
