package request

import "context"

// Priority orders ready descriptors. Higher values run first.
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Immediate
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Immediate:
		return "immediate"
	default:
		return "unknown"
	}
}

type ctxKey int

const priorityKey ctxKey = iota + 1

// ContextWithPriority returns a copy of ctx carrying p, so transport
// middleware can see the priority of the descriptor being executed.
func ContextWithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey, p)
}

// PriorityFromContext returns the priority stored by ContextWithPriority.
func PriorityFromContext(ctx context.Context) (Priority, bool) {
	p, ok := ctx.Value(priorityKey).(Priority)
	return p, ok
}
