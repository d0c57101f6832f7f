package dag

import (
	"context"
	"errors"
	"time"

	"github.com/atlasagent/atlas-core/pkg/keypool"
	"github.com/atlasagent/atlas-core/pkg/retry"
	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

// CooldownDuration is how long a key is parked after exhausting its
// retry budget on a TransientExternal failure (spec §4.8's per-key
// fallback).
const CooldownDuration = 60 * time.Second

// GenerateFunc performs one model call for a specific credential. The
// concrete LLM SDK call (anthropic-sdk-go, bedrockruntime, langchaingo)
// is a collaborator injected by the caller; this package only
// orchestrates the governance-list fallback around it.
type GenerateFunc func(ctx context.Context, cred keypool.Credential, prompt string) (string, error)

// Governance is the subset of pkg/keypool.Pool the executor needs to
// rotate credentials for a role.
type Governance interface {
	Available(role string, now time.Time) []keypool.Credential
	MarkCooldown(keyRef string, now time.Time, duration time.Duration)
	MarkQuotaExhausted(keyRef, model string, now time.Time)
	Call(ctx context.Context, keyRef string, fn func(ctx context.Context) (string, error)) (string, error)
}

// RunGoverned resolves role to its governance-ordered credential list,
// grouped by model, and executes prompt via gen: it loops over models,
// and for each model loops over that model's keys. A TransientExternal
// or QuotaExhausted failure parks the key and moves on to the model's
// next key; any other failure skips to the next model (not just the next
// key) (spec §4.8 generation task dispatch).
func RunGoverned(ctx context.Context, pool Governance, role, prompt string, gen GenerateFunc, now time.Time) (string, error) {
	creds := pool.Available(role, now)
	if len(creds) == 0 {
		return "", sharederrors.Classify(sharederrors.KindTransientExternal,
			errors.New("no available credentials for role "+role))
	}

	var order []string
	groups := map[string][]keypool.Credential{}
	for _, c := range creds {
		if _, ok := groups[c.Model]; !ok {
			order = append(order, c.Model)
		}
		groups[c.Model] = append(groups[c.Model], c)
	}

	var lastErr error
	for _, m := range order {
		for _, cred := range groups[m] {
			out, err := callWithRetry(ctx, pool, role, cred, prompt, gen)
			if err == nil {
				return out, nil
			}
			lastErr = err

			var ce *sharederrors.ClassifiedError
			if errors.As(err, &ce) {
				switch ce.Kind {
				case sharederrors.KindQuotaExhausted:
					pool.MarkQuotaExhausted(cred.KeyRef, cred.Model, now)
					continue
				case sharederrors.KindTransientExternal:
					pool.MarkCooldown(cred.KeyRef, now, CooldownDuration)
					continue
				}
			}
			// PermanentInput or anything else unclassified: not worth
			// retrying on a sibling key of the same model, so fall
			// through to the next model.
			break
		}
	}
	return "", lastErr
}

func callWithRetry(ctx context.Context, pool Governance, role string, cred keypool.Credential, prompt string, gen GenerateFunc) (string, error) {
	return pool.Call(ctx, cred.KeyRef, func(ctx context.Context) (string, error) {
		var out string
		err := retry.Do(ctx, retry.DefaultPolicy(role), nil, func(ctx context.Context) error {
			o, callErr := gen(ctx, cred, prompt)
			if callErr != nil {
				return callErr
			}
			out = o
			return nil
		})
		return out, err
	})
}
