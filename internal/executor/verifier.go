package executor

import "context"

// IntegrationVerifier checks a rebased task branch holistically before
// stage two of the merge is allowed to land on its parent. Shape
// borrowed from policy.Checker's boolean-gate style, generalized from
// "is this URL/capability allowed" to "does this branch still satisfy
// its goal's constraints".
type IntegrationVerifier interface {
	Verify(ctx context.Context, taskBranch string) error
}

// VerifierFunc adapts a plain function to IntegrationVerifier.
type VerifierFunc func(ctx context.Context, taskBranch string) error

func (f VerifierFunc) Verify(ctx context.Context, taskBranch string) error { return f(ctx, taskBranch) }

// NoopVerifier always succeeds; callers without a real integration
// check (e.g. early bring-up, or tasks with no verification task type)
// use this so stage two still runs through the same code path.
var NoopVerifier IntegrationVerifier = VerifierFunc(func(context.Context, string) error { return nil })
