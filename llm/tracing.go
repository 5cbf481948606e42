package llm

import "context"

// Span 表示跟踪跨度.
type Span interface {
	SetAttribute(key string, value interface{})
	AddEvent(name string, attributes map[string]interface{})
	SetError(err error)
	End()
}

// Tracer 提供分布式追踪.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}
