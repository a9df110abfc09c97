// Package intr models the interrupt flag of the single simulated CPU.
//
// Disabling interrupts is the only synchronization the scheduler core uses
// on its own state: code that runs with interrupts off cannot be
// interrupted by the timer, so it observes and leaves the queues whole.
package intr

// Level is the interrupt state.
type Level bool

const (
	Off Level = false
	On  Level = true
)

func (l Level) String() string {
	if l {
		return "on"
	}
	return "off"
}

// Controller holds the interrupt flag and tracks whether an external
// interrupt handler is executing.
type Controller struct {
	level     Level
	inHandler bool
}

// Level returns the current interrupt level.
func (c *Controller) Level() Level {
	return c.level
}

// SetLevel sets the interrupt level and returns the previous one.
func (c *Controller) SetLevel(l Level) Level {
	old := c.level
	c.level = l
	return old
}

// Disable turns interrupts off and returns the previous level.
func (c *Controller) Disable() Level {
	return c.SetLevel(Off)
}

// Enable turns interrupts on and returns the previous level.
// Enabling from inside an interrupt handler is a bug and panics.
func (c *Controller) Enable() Level {
	if c.inHandler {
		panic("intr: enable inside interrupt handler")
	}
	return c.SetLevel(On)
}

// Enter marks the start of an external interrupt handler. Handlers run
// with interrupts off.
func (c *Controller) Enter() Level {
	if c.inHandler {
		panic("intr: nested external interrupt")
	}
	old := c.Disable()
	c.inHandler = true
	return old
}

// Leave marks the end of an external interrupt handler and restores old.
func (c *Controller) Leave(old Level) {
	c.inHandler = false
	c.SetLevel(old)
}

// InContext reports whether an external interrupt handler is executing.
func (c *Controller) InContext() bool {
	return c.inHandler
}
