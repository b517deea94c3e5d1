package machine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxIsFIFO(t *testing.T) {
	var got []int
	rec := must(NewType[empty]("Recorder", nil).
		State("Init").Initial().
		On("Num", func(c *Context, _ *empty, ev Event) error {
			got = append(got, ev.Payload.(int))
			return nil
		}).
		Build())

	report := runOnce(t, func(rt *Runtime) {
		id := rt.CreateMachine(rec, Event{})
		for i := 0; i < 5; i++ {
			rt.SendEvent(id, NewEvent("Num", i))
		}
	})
	assert.Empty(t, report.Bugs)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestSingleTransitionPerAction(t *testing.T) {
	cases := []struct {
		name   string
		action Handler[empty]
		kind   BugKind
		msg    string
	}{
		{
			name: "goto then raise",
			action: func(c *Context, _ *empty, _ Event) error {
				c.Goto("Other")
				c.Raise(NewEvent("X", nil))
				return nil
			},
			kind: BugMultipleTransitions,
			msg:  "Machine 'M(1)' has called multiple raise, goto, push or pop in the same action.",
		},
		{
			name: "send after goto",
			action: func(c *Context, _ *empty, _ Event) error {
				c.Goto("Other")
				c.Send(c.ID(), NewEvent("X", nil))
				return nil
			},
			kind: BugCallAfterTransition,
			msg:  "Machine 'M(1)' cannot call 'Send' after calling raise, goto, push or pop in the same action.",
		},
		{
			name: "pop without push",
			action: func(c *Context, _ *empty, _ Event) error {
				c.Pop()
				return nil
			},
			kind: BugUnbalancedPop,
			msg:  "Machine 'M(1)' popped with no matching push.",
		},
		{
			name: "goto after receive",
			action: func(c *Context, _ *empty, _ Event) error {
				c.Receive(func(*Context, Event) error { return nil }, "Y")
				c.Goto("Other")
				return nil
			},
			kind: BugCallAfterTransition,
			msg:  "Machine 'M(1)' cannot call raise, goto, push or pop after calling receive in the same action.",
		},
		{
			name: "unknown target",
			action: func(c *Context, _ *empty, _ Event) error {
				c.Goto("Nowhere")
				return nil
			},
			kind: BugInvalidOperation,
			msg:  "Machine 'M(1)' cannot transition to unknown state 'Nowhere'.",
		},
		{
			name: "action error",
			action: func(c *Context, _ *empty, _ Event) error {
				return errors.New("disk full")
			},
			kind: BugActionError,
			msg:  "Machine 'M(1)' failed handling 'Go' in state 'Init': disk full",
		},
		{
			name: "panic",
			action: func(c *Context, _ *empty, _ Event) error {
				panic("boom")
			},
			kind: BugPanic,
			msg:  "Machine 'M(1)' panicked: boom",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mt := must(NewType[empty]("M", nil).
				State("Init").Initial().On("Go", tc.action).
				State("Other").
				Build())
			report := runOnce(t, func(rt *Runtime) {
				rt.SendEvent(rt.CreateMachine(mt, Event{}), NewEvent("Go", nil))
			})
			bug := onlyBug(t, report)
			assert.Equal(t, tc.kind, bug.Kind)
			assert.Equal(t, tc.msg, bug.Message)
			assert.Equal(t, "M(1)", bug.Actor.String())
		})
	}
}

func TestTransitionInExitIsABug(t *testing.T) {
	mt := must(NewType[empty]("M", nil).
		State("A").Initial().
		Goto("Go", "B").
		OnExit(func(c *Context, _ *empty, _ Event) error {
			c.Goto("B")
			return nil
		}).
		State("B").
		Build())

	report := runOnce(t, func(rt *Runtime) {
		rt.SendEvent(rt.CreateMachine(mt, Event{}), NewEvent("Go", nil))
	})
	bug := onlyBug(t, report)
	assert.Equal(t, BugTransitionInExit, bug.Kind)
	assert.Equal(t, "Machine 'M(1)' has called raise, goto, push or pop inside an OnExit method.", bug.Message)
}

func TestDeferAndIgnore(t *testing.T) {
	var got []EventType
	record := func(c *Context, _ *empty, ev Event) error {
		got = append(got, ev.Type)
		return nil
	}
	mt := must(NewType[empty]("M", nil).
		State("A").Initial().
		Defer("X").
		Ignore("Y").
		Goto("Go", "B").
		State("B").
		On("X", record).
		On("Y", record).
		Build())

	report := runOnce(t, func(rt *Runtime) {
		id := rt.CreateMachine(mt, Event{})
		rt.SendEvent(id, NewEvent("X", nil))
		rt.SendEvent(id, NewEvent("Y", nil))
		rt.SendEvent(id, NewEvent("Go", nil))
	})
	assert.Empty(t, report.Bugs)
	assert.Equal(t, []EventType{"X"}, got, "deferred X survives, ignored Y is dropped")
}

func TestRaisedEventRunsBeforeMailbox(t *testing.T) {
	var got []EventType
	record := func(c *Context, _ *empty, ev Event) error {
		got = append(got, ev.Type)
		return nil
	}
	mt := must(NewType[empty]("M", nil).
		State("A").Initial().
		OnEntry(func(c *Context, _ *empty, _ Event) error {
			c.Raise(NewEvent("Raised", nil))
			return nil
		}).
		On("Raised", record).
		On("Queued", record).
		Build())

	report := runOnce(t, func(rt *Runtime) {
		rt.SendEvent(rt.CreateMachine(mt, Event{}), NewEvent("Queued", nil))
	})
	assert.Empty(t, report.Bugs)
	assert.Equal(t, []EventType{"Raised", "Queued"}, got)
}

func TestPushPopInheritance(t *testing.T) {
	var log []string
	note := func(s string) Handler[empty] {
		return func(c *Context, _ *empty, ev Event) error {
			log = append(log, s+":"+c.CurrentState())
			return nil
		}
	}
	mt := must(NewType[empty]("M", nil).
		State("Base").Initial().
		On("Ping", note("ping")).
		Push("Enter", "Sub").
		State("Sub").
		OnEntry(note("entry")).
		OnExit(note("exit")).
		On("Leave", func(c *Context, _ *empty, _ Event) error {
			c.Pop()
			return nil
		}).
		Build())

	report := runOnce(t, func(rt *Runtime) {
		id := rt.CreateMachine(mt, Event{})
		for _, ev := range []EventType{"Enter", "Ping", "Leave", "Ping"} {
			rt.SendEvent(id, NewEvent(ev, nil))
		}
	})
	assert.Empty(t, report.Bugs)
	assert.Equal(t, []string{"entry:Sub", "ping:Sub", "exit:Sub", "ping:Base"}, log)
}

func TestUnhandledEventUnwindsPushedStates(t *testing.T) {
	var exits int
	mt := must(NewType[empty]("M", nil).
		State("Base").Initial().
		Push("Enter", "Sub").
		State("Sub").
		OnExit(func(c *Context, _ *empty, _ Event) error {
			exits++
			return nil
		}).
		Build())

	report := runOnce(t, func(rt *Runtime) {
		id := rt.CreateMachine(mt, Event{})
		rt.SendEvent(id, NewEvent("Enter", nil))
		rt.SendEvent(id, NewEvent("Unknown", nil))
	})
	bug := onlyBug(t, report)
	assert.Equal(t, BugUnhandledEvent, bug.Kind)
	assert.Equal(t, "Machine 'M(1)' received event 'Unknown' that cannot be handled.", bug.Message)
	assert.Equal(t, 1, exits)
}

func TestHalt(t *testing.T) {
	t.Run("explicit halt drops later events", func(t *testing.T) {
		var handled int
		mt := must(NewType[empty]("M", nil).
			State("A").Initial().
			On("Work", func(c *Context, _ *empty, _ Event) error {
				handled++
				return nil
			}).
			On("Stop", func(c *Context, _ *empty, _ Event) error {
				c.Halt()
				return nil
			}).
			Build())

		report := runOnce(t, func(rt *Runtime) {
			id := rt.CreateMachine(mt, Event{})
			rt.SendEvent(id, NewEvent("Work", nil))
			rt.SendEvent(id, NewEvent("Stop", nil))
			rt.SendEvent(id, NewEvent("Work", nil))
		})
		assert.Empty(t, report.Bugs)
		assert.Equal(t, 1, handled)
	})

	t.Run("halt event is not matched by wildcard", func(t *testing.T) {
		var got []EventType
		mt := must(NewType[empty]("M", nil).
			State("A").Initial().
			On(EventWildcard, func(c *Context, _ *empty, ev Event) error {
				got = append(got, ev.Type)
				return nil
			}).
			Build())

		report := runOnce(t, func(rt *Runtime) {
			id := rt.CreateMachine(mt, Event{})
			rt.SendEvent(id, NewEvent("Foo", nil))
			rt.SendEvent(id, NewEvent(EventHalt, nil))
			rt.SendEvent(id, NewEvent("Bar", nil))
		})
		assert.Empty(t, report.Bugs)
		assert.Equal(t, []EventType{"Foo"}, got)
	})
}

func TestDefaultEvent(t *testing.T) {
	var defaults int
	mt := must(NewType[empty]("M", nil).
		State("Polling").Initial().
		On("Msg", func(c *Context, _ *empty, _ Event) error { return nil }).
		On(EventDefault, func(c *Context, _ *empty, _ Event) error {
			defaults++
			c.Goto("Done")
			return nil
		}).
		State("Done").
		Build())

	report := runOnce(t, func(rt *Runtime) {
		rt.SendEvent(rt.CreateMachine(mt, Event{}), NewEvent("Msg", nil))
	})
	assert.Empty(t, report.Bugs)
	assert.Equal(t, 1, defaults, "default fires once the mailbox is drained")
}

func TestReceive(t *testing.T) {
	var got []string
	mt := must(NewType[empty]("M", nil).
		State("A").Initial().
		OnEntry(func(c *Context, _ *empty, _ Event) error {
			c.Receive(func(c *Context, ev Event) error {
				got = append(got, "reply:"+ev.Payload.(string))
				return nil
			}, "Reply")
			return nil
		}).
		On("Other", func(c *Context, _ *empty, _ Event) error {
			got = append(got, "other")
			return nil
		}).
		Build())

	report := runOnce(t, func(rt *Runtime) {
		id := rt.CreateMachine(mt, Event{})
		rt.SendEvent(id, NewEvent("Other", nil))
		rt.SendEvent(id, NewEvent("Reply", "ok"))
	})
	assert.Empty(t, report.Bugs)
	assert.Equal(t, []string{"reply:ok", "other"}, got)
}

func TestLivelock(t *testing.T) {
	mt := must(NewType[empty]("Waiter", nil).
		State("A").Initial().
		OnEntry(func(c *Context, _ *empty, _ Event) error {
			c.Receive(func(*Context, Event) error { return nil }, "Never")
			return nil
		}).
		Build())

	report := runOnce(t, func(rt *Runtime) {
		rt.CreateMachine(mt, Event{})
		rt.CreateMachine(mt, Event{})
	})
	bug := onlyBug(t, report)
	assert.Equal(t, BugLivelock, bug.Kind)
	assert.Equal(t,
		"Livelock detected. 'Waiter(1)' and 'Waiter(2)' are waiting for an event, but no other schedulable choices are enabled.",
		bug.Message)
}

func TestEventBounds(t *testing.T) {
	mt := must(NewType[empty]("M", nil).
		State("A").Initial().
		On("Num", func(c *Context, _ *empty, _ Event) error { return nil }).
		Build())

	t.Run("assert bound", func(t *testing.T) {
		report := runOnce(t, func(rt *Runtime) {
			id := rt.CreateMachine(mt, Event{})
			rt.SendEvent(id, NewEvent("Num", 1).WithAssertBound(1))
			rt.SendEvent(id, NewEvent("Num", 2).WithAssertBound(1))
		})
		bug := onlyBug(t, report)
		assert.Equal(t, BugEventBound, bug.Kind)
		assert.Equal(t, "There are more than 1 instances of 'Num' in the input queue of machine 'M(1)'.", bug.Message)
	})

	t.Run("assume bound ends the iteration silently", func(t *testing.T) {
		report := runOnce(t, func(rt *Runtime) {
			id := rt.CreateMachine(mt, Event{})
			rt.SendEvent(id, NewEvent("Num", 1).WithAssumeBound(1))
			rt.SendEvent(id, NewEvent("Num", 2).WithAssumeBound(1))
		})
		assert.Empty(t, report.Bugs)
		assert.Equal(t, 1, report.AssumeViolations)
	})
}

func TestHarnessFailures(t *testing.T) {
	t.Run("panic", func(t *testing.T) {
		report := runOnce(t, func(rt *Runtime) { panic("oops") })
		bug := onlyBug(t, report)
		assert.Equal(t, BugPanic, bug.Kind)
		assert.Equal(t, "Test harness panicked: oops", bug.Message)
	})

	t.Run("assert", func(t *testing.T) {
		report := runOnce(t, func(rt *Runtime) { rt.Assert(1+1 == 3, "math is %s", "broken") })
		bug := onlyBug(t, report)
		assert.Equal(t, BugAssertion, bug.Kind)
		assert.Equal(t, "math is broken", bug.Message)
	})

	t.Run("send to unknown machine", func(t *testing.T) {
		report := runOnce(t, func(rt *Runtime) {
			rt.SendEvent(ActorID{Value: 7, Type: "Ghost"}, NewEvent("Boo", nil))
		})
		bug := onlyBug(t, report)
		assert.Equal(t, BugInvalidOperation, bug.Kind)
		assert.Equal(t, "Cannot send event 'Boo' to machine 'Ghost(7)' that was never created.", bug.Message)
	})
}

func TestMonitorRestrictions(t *testing.T) {
	mon := must(NewMonitor[empty]("Safety", nil).
		State("Watching").Initial().
		On("Check", func(c *Context, _ *empty, _ Event) error {
			c.Send(ActorID{Value: 1, Type: "M"}, NewEvent("X", nil))
			return nil
		}).
		Build())

	report := runOnce(t, func(rt *Runtime) {
		rt.RegisterMonitor(mon)
		rt.Monitor("Safety", NewEvent("Check", nil))
	})
	bug := onlyBug(t, report)
	assert.Equal(t, BugInvalidOperation, bug.Kind)
	assert.Equal(t, "Monitor 'Safety' cannot call 'Send'.", bug.Message)

	t.Run("unhandled event in monitor", func(t *testing.T) {
		report := runOnce(t, func(rt *Runtime) {
			rt.RegisterMonitor(mon)
			rt.Monitor("Safety", NewEvent("Surprise", nil))
		})
		bug := onlyBug(t, report)
		assert.Equal(t, "Monitor 'Safety' received event 'Surprise' that cannot be handled.", bug.Message)
	})
}

func TestRandomChoicesAreRecorded(t *testing.T) {
	var picks []int
	mt := must(NewType[empty]("M", nil).
		State("A").Initial().
		OnEntry(func(c *Context, _ *empty, _ Event) error {
			picks = append(picks, c.RandomInt(3))
			if c.RandomBool() {
				picks = append(picks, 100)
			}
			return nil
		}).
		Build())

	report := runOnce(t, func(rt *Runtime) { rt.CreateMachine(mt, Event{}) })
	require.Empty(t, report.Bugs)
	assert.Equal(t, []int{0}, picks, "DFS explores 0 and false first")
}
