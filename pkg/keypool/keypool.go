// Package keypool implements the Key Pool (C1): rotation of
// provider/model/key credentials with per-key cooldowns and per-model
// daily quota-exhaustion tracking, guarded by a mutex since the pool is
// shared in-process state (spec §5).
package keypool

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

// Provider identifies which SDK backs a credential.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderLangchain Provider = "langchain" // multi-provider fallback via tmc/langchaingo
)

// Credential is one rotation unit: a provider, the model it serves, and
// an opaque key reference (an env var name or secret path, never the
// literal secret, consistent with the teacher's credential handling).
type Credential struct {
	Provider Provider
	Model    string
	KeyRef   string
}

type keyState struct {
	cooldownUntil    time.Time
	dailyCount       int
	dailyBoundary    time.Time
	exhaustedModels  map[string]time.Time // model -> exhausted-until (next daily boundary)
}

// Pool rotates a governance list of credentials per "role" (e.g.
// "orchestrator", "extractor", "synthesizer", "episodic-summary"),
// tracking cooldowns and per-model quota exhaustion, and wraps each
// credential's calls in its own circuit breaker so a single flaky
// provider doesn't starve the others.
type Pool struct {
	mu        sync.Mutex
	roles     map[string][]Credential
	state     map[string]*keyState // KeyRef -> state
	breakers  map[string]*gobreaker.CircuitBreaker
}

// New builds a Pool from a role -> governance-list-of-credentials map,
// matching the teacher's model-governance configuration shape.
func New(roles map[string][]Credential) *Pool {
	p := &Pool{
		roles:    roles,
		state:    make(map[string]*keyState),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, creds := range roles {
		for _, c := range creds {
			if _, ok := p.state[c.KeyRef]; !ok {
				p.state[c.KeyRef] = &keyState{exhaustedModels: map[string]time.Time{}}
			}
			if _, ok := p.breakers[c.KeyRef]; !ok {
				p.breakers[c.KeyRef] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
					Name:        c.KeyRef,
					MaxRequests: 1,
					Interval:    time.Minute,
					Timeout:     30 * time.Second,
				})
			}
		}
	}
	return p
}

// Available returns the governance-ordered credentials for role that are
// neither cooling down nor quota-exhausted for their model, as of now.
func (p *Pool) Available(role string, now time.Time) []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds := p.roles[role]
	out := make([]Credential, 0, len(creds))
	for _, c := range creds {
		st := p.state[c.KeyRef]
		if st == nil {
			out = append(out, c)
			continue
		}
		if now.Before(st.cooldownUntil) {
			continue
		}
		if until, exhausted := st.exhaustedModels[c.Model]; exhausted && now.Before(until) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// MarkCooldown puts keyRef on cooldown until now+duration, used after a
// TransientExternal classification exhausts its retry budget.
func (p *Pool) MarkCooldown(keyRef string, now time.Time, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stateFor(keyRef)
	st.cooldownUntil = now.Add(duration)
}

// MarkQuotaExhausted records that model is exhausted on keyRef until the
// next daily boundary (midnight UTC of the following day), per spec §7's
// QuotaExhausted handling: other keys/models continue.
func (p *Pool) MarkQuotaExhausted(keyRef, model string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stateFor(keyRef)
	st.exhaustedModels[model] = nextDailyBoundary(now)
}

func nextDailyBoundary(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func (p *Pool) stateFor(keyRef string) *keyState {
	st, ok := p.state[keyRef]
	if !ok {
		st = &keyState{exhaustedModels: map[string]time.Time{}}
		p.state[keyRef] = st
	}
	return st
}

// Call invokes fn through keyRef's circuit breaker, translating a tripped
// breaker into a TransientExternal classified error so the caller's
// retry/fallback loop (DAG executor, extractor, synthesizer) treats it
// uniformly with any other transient failure.
func (p *Pool) Call(ctx context.Context, keyRef string, fn func(ctx context.Context) (string, error)) (string, error) {
	p.mu.Lock()
	cb := p.breakers[keyRef]
	p.mu.Unlock()
	if cb == nil {
		return fn(ctx)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", sharederrors.Classify(sharederrors.KindTransientExternal, err)
		}
		return "", err
	}
	return result.(string), nil
}
