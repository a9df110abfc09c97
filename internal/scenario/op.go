package scenario

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/me/kthreads/pkg/model"
)

// Script operations.
const (
	OpSpin        = "spin"         // burn N ticks
	OpSleep       = "sleep"        // sleep N ticks
	OpYield       = "yield"        // give up the CPU
	OpAcquire     = "acquire"      // acquire lock
	OpRelease     = "release"      // release lock
	OpDown        = "down"         // semaphore down
	OpUp          = "up"           // semaphore up
	OpWait        = "wait"         // wait on cond, holding its lock
	OpSignal      = "signal"       // signal cond, holding its lock
	OpBroadcast   = "broadcast"    // broadcast cond, holding its lock
	OpSetPriority = "set_priority" // set own base priority
	OpSetNice     = "set_nice"     // set own nice value
	OpSpawn       = "spawn"        // spawn a declared thread
	OpNote        = "note"         // record a note event
)

// Op is one script step. In YAML it is written as a single-key mapping,
// such as "spin: 8" or "acquire: a", or as a bare word for "yield".
type Op struct {
	Kind string
	Name string // lock, semaphore, cond or thread name
	N    int64  // tick count, priority or nice value
	Text string // note text
}

// UnmarshalYAML decodes the compact op forms.
func (o *Op) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		o.Kind = node.Value
		if o.Kind != OpYield {
			return fmt.Errorf("line %d: op %q needs an argument", node.Line, node.Value)
		}
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: op must have exactly one key", node.Line)
		}
		key, val := node.Content[0], node.Content[1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: op %q takes a scalar argument", node.Line, key.Value)
		}
		o.Kind = key.Value
		return o.setArg(val)
	}
	return fmt.Errorf("line %d: op must be a mapping or a bare word", node.Line)
}

func (o *Op) setArg(val *yaml.Node) error {
	switch o.Kind {
	case OpSpin, OpSleep, OpSetPriority, OpSetNice:
		n, err := strconv.ParseInt(val.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %s needs an integer, got %q", val.Line, o.Kind, val.Value)
		}
		o.N = n
	case OpAcquire, OpRelease, OpDown, OpUp, OpWait, OpSignal, OpBroadcast, OpSpawn:
		o.Name = val.Value
	case OpNote:
		o.Text = val.Value
	case OpYield:
	default:
		return fmt.Errorf("line %d: unknown op %q", val.Line, o.Kind)
	}
	return nil
}

// check validates references against the declared objects and threads.
func (o Op) check(objects map[string]string, threads map[string]bool) error {
	want := ""
	switch o.Kind {
	case OpAcquire, OpRelease:
		want = "lock"
	case OpDown, OpUp:
		want = "semaphore"
	case OpWait, OpSignal, OpBroadcast:
		want = "cond"
	case OpSpawn:
		if !threads[o.Name] {
			return fmt.Errorf("spawn of undeclared thread %q", o.Name)
		}
	case OpSpin, OpSleep:
		if o.N < 0 {
			return fmt.Errorf("%s: negative tick count %d", o.Kind, o.N)
		}
	case OpSetNice:
		if !model.ValidNice(int(o.N)) {
			return fmt.Errorf("set_nice: %d out of range", o.N)
		}
	}
	if want != "" && objects[o.Name] != want {
		return fmt.Errorf("%s: %q is not a declared %s", o.Kind, o.Name, want)
	}
	return nil
}

func (o Op) String() string {
	switch {
	case o.Name != "":
		return o.Kind + " " + o.Name
	case o.Text != "":
		return o.Kind + " " + strconv.Quote(o.Text)
	case o.Kind == OpYield:
		return o.Kind
	}
	return o.Kind + " " + strconv.FormatInt(o.N, 10)
}
