package services

import (
	"context"

	"github.com/hanko-field/orders/internal/repositories"
)

type commitHooksKey struct{}

type commitHooks struct {
	fns []func(context.Context)
}

// runInTx runs fn in a unit of work. Callbacks registered with afterCommit while fn runs are
// executed once the outermost runInTx commits and dropped when it fails. Stores that retry fn on
// contention start each attempt with an empty callback list.
func runInTx(ctx context.Context, unit repositories.UnitOfWork, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		return unit.RunInTx(ctx, fn)
	}
	hooks := &commitHooks{}
	err := unit.RunInTx(context.WithValue(ctx, commitHooksKey{}, hooks), func(txCtx context.Context) error {
		hooks.fns = hooks.fns[:0]
		return fn(txCtx)
	})
	if err != nil {
		return err
	}
	for _, hook := range hooks.fns {
		hook(ctx)
	}
	return nil
}

// afterCommit defers fn until the enclosing runInTx commits, or runs it immediately outside one.
func afterCommit(ctx context.Context, fn func(context.Context)) {
	if hooks, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		hooks.fns = append(hooks.fns, fn)
		return
	}
	fn(ctx)
}
