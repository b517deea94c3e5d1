package machine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/actorcheck-go/machine/strategy"
)

type empty struct{}

// must unwraps Build results in fixtures; definitions in tests are static.
func must(mt *MachineType, err error) *MachineType {
	if err != nil {
		panic(err)
	}
	return mt
}

// runOnce runs a single deterministic iteration: DFS takes the lowest
// enabled id at every step.
func runOnce(t *testing.T, test TestFunc, opts ...Option) *Report {
	t.Helper()
	opts = append([]Option{WithStrategy(strategy.NewDFS()), WithIterations(1)}, opts...)
	engine, err := New(test, opts...)
	require.NoError(t, err)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	return report
}

// onlyBug asserts the report holds exactly one distinct bug and returns it.
func onlyBug(t *testing.T, r *Report) *BugReport {
	t.Helper()
	require.Len(t, r.Bugs, 1, "report: %s", r)
	return r.Bugs[0]
}

type pingServer struct {
	seen int
}

type pingClient struct {
	server ActorID
	done   bool
}

// pingPong builds a server and two clients. The first client tells the
// server it is done after its pong arrives; the server asserts it has seen
// both pings by then, which fails when the second client is slow.
func pingPong(t *testing.T) TestFunc {
	t.Helper()
	server := must(NewType("Server", func() *pingServer { return &pingServer{} }).
		State("Serving").Initial().
		On("Ping", func(c *Context, m *pingServer, ev Event) error {
			m.seen++
			c.Send(ev.Payload.(ActorID), NewEvent("Pong", nil))
			return nil
		}).
		On("Done", func(c *Context, m *pingServer, ev Event) error {
			c.Assert(m.seen == 2, "Seen %d Pings before Done", m.seen)
			return nil
		}).
		Build())

	client := must(NewType("Client", func() *pingClient { return &pingClient{} }).
		State("Init").Initial().
		OnEntry(func(c *Context, m *pingClient, ev Event) error {
			m.server = ev.Payload.(ActorID)
			c.Send(m.server, NewEvent("Ping", c.ID()))
			return nil
		}).
		On("Pong", func(c *Context, m *pingClient, ev Event) error {
			if c.ID().Value == 2 {
				c.Send(m.server, NewEvent("Done", nil))
			}
			m.done = true
			return nil
		}).
		Build())

	return func(rt *Runtime) {
		s := rt.CreateMachine(server, Event{})
		rt.CreateMachine(client, NewEvent("Start", s))
		rt.CreateMachine(client, NewEvent("Start", s))
	}
}

type ticker struct {
	ticks int
}

// selfLoop builds a machine that sends itself Tick forever and a monitor
// that turns hot on Request and cold on Done. With loopMonitor the machine
// moves the monitor to hot at start and never cools it.
func selfLoop(t *testing.T, loopMonitor bool) (TestFunc, *MachineType) {
	t.Helper()
	progress := progressMonitor(t)
	loop := must(NewType("Looper", func() *ticker { return &ticker{} }).
		State("Running").Initial().
		OnEntry(func(c *Context, m *ticker, ev Event) error {
			if loopMonitor {
				c.Monitor("Progress", NewEvent("Request", nil))
			}
			c.Send(c.ID(), NewEvent("Tick", nil))
			return nil
		}).
		On("Tick", func(c *Context, m *ticker, ev Event) error {
			m.ticks++
			c.Send(c.ID(), NewEvent("Tick", nil))
			return nil
		}).
		Build())

	return func(rt *Runtime) {
		rt.RegisterMonitor(progress)
		rt.CreateMachine(loop, Event{})
	}, loop
}

func progressMonitor(t *testing.T) *MachineType {
	t.Helper()
	return must(NewMonitor[empty]("Progress", nil).
		State("Idle").Initial().Cold().
		Goto("Request", "Busy").
		Ignore("Done").
		State("Busy").Hot().
		Goto("Done", "Idle").
		Ignore("Request").
		Build())
}
