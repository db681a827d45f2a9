package session

import "context"

type pipeKey struct{}

func withPipe(ctx context.Context, p *Pipe) context.Context {
	return context.WithValue(ctx, pipeKey{}, p)
}

// PipeFromContext 返回承载当前入站调用的管道
func PipeFromContext(ctx context.Context) (*Pipe, bool) {
	p, ok := ctx.Value(pipeKey{}).(*Pipe)
	return p, ok
}
