// Package quota provides fixed-window rate limiting for a multi-process API.
// Counting is atomic per key, shared across processes through a distributed
// backend when one is configured, and degrades to process-local counters
// when it is not.
//
// # Key Concepts
//
//   - [Limiter] is the facade. [Limiter.Check], [Limiter.Peek] and
//     [Limiter.ResetPrefix] never fail: a backend error moves the call to
//     the next backend and the in-memory store always answers.
//   - [Rule] names a call site's quota: key namespace, window, max and cost.
//   - [Plans] maps subscription tiers to AI interaction limits.
//   - [BuildHeaders], [Middleware] and [ParseUsage] carry the quota to and
//     from HTTP clients.
//
// # Degraded Mode
//
// Local fallback counters are per process. While the distributed backend is
// unconfigured or failing, each process enforces the full quota on its own,
// so N processes admit up to N times the configured limit. Counters written
// during an outage are not merged back when the backend recovers.
//
// # Quick Start
//
//	limiter := quota.New(
//		quota.WithDistributed(upstash.New(upstash.Config{URL: url, Token: token})),
//	)
//
//	res := limiter.Allow(ctx, quota.PredictRule, userID)
//	if !res.Allowed {
//		quota.WriteLimited(w, res, quota.PredictRule.Max, quota.CategoryGeneral, time.Now())
//		return
//	}
//
// See the [Limiter] documentation for the full API.
package quota
