package scheduler

import (
	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/runner"
)

// Listener receives the terminal outcome of a submission on the delivery
// context.
type Listener interface {
	OnSuccess(res runner.Result)
	OnError(err error)
}

// ListenerFuncs adapts a pair of funcs to [Listener]. Nil funcs are skipped.
type ListenerFuncs struct {
	Success func(res runner.Result)
	Error   func(err error)
}

func (l ListenerFuncs) OnSuccess(res runner.Result) {
	if l.Success != nil {
		l.Success(res)
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// Observer receives call metrics for every completed request on the
// delivery context.
type Observer func(d *request.Descriptor, m request.CallMetrics)
