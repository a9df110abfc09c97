package scenario

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/me/kthreads/pkg/model"
)

// expectTimeout bounds the evaluation of a single expectation.
const expectTimeout = time.Second

// runView is the object expectations see as `run`.
type runView struct {
	Name      string                      `json:"name"`
	Mode      model.SchedulingMode        `json:"mode"`
	Ticks     int64                       `json:"ticks"`
	LoadAvg   int                         `json:"load_avg"`
	Switches  int64                       `json:"switches"`
	IdleTicks int64                       `json:"idle_ticks"`
	Dispatch  []string                    `json:"dispatch"`
	Notes     []string                    `json:"notes"`
	Events    []model.Event               `json:"events"`
	Threads   map[string]model.ThreadInfo `json:"threads"`
	Error     string                      `json:"error"`
}

func newRunView(res *Result) runView {
	v := runView{
		Name:      res.Scenario.Name,
		Mode:      res.Mode,
		Ticks:     res.Stats.Ticks,
		LoadAvg:   res.LoadAvg,
		Switches:  res.Stats.Switches,
		IdleTicks: res.Stats.IdleTicks,
		Dispatch:  []string{},
		Notes:     []string{},
		Events:    res.Events,
		Threads:   make(map[string]model.ThreadInfo, len(res.Threads)),
	}
	for _, ev := range res.Events {
		switch ev.Kind {
		case model.EventDispatch:
			v.Dispatch = append(v.Dispatch, ev.ThreadName)
		case model.EventNote:
			v.Notes = append(v.Notes, ev.Detail)
		}
	}
	for _, t := range res.Threads {
		v.Threads[t.Name] = t
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}

// evaluate runs every expectation against the finished run. Each one is a
// JavaScript expression that must be truthy. An expression that throws
// fails with its error recorded.
func evaluate(exprs []string, res *Result) ([]model.Expectation, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(newRunView(res))
	if err != nil {
		return nil, fmt.Errorf("encode run: %w", err)
	}

	vm := goja.New()
	if err := vm.Set("__run", string(data)); err != nil {
		return nil, fmt.Errorf("set run: %w", err)
	}
	if _, err := vm.RunString("var run = JSON.parse(__run);"); err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	out := make([]model.Expectation, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, evaluateOne(vm, expr))
	}
	return out, nil
}

func evaluateOne(vm *goja.Runtime, expr string) model.Expectation {
	e := model.Expectation{Expr: expr}

	timer := time.AfterFunc(expectTimeout, func() {
		vm.Interrupt("expectation timed out")
	})
	val, err := vm.RunString("(" + expr + ")")
	timer.Stop()
	vm.ClearInterrupt()

	if err != nil {
		e.Error = err.Error()
		return e
	}
	e.Passed = val.ToBoolean()
	return e
}
