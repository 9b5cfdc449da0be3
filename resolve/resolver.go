/*
Package resolve maps spoken employee names to canonical identities.

PURPOSE:
  The resolver is the deduplication heart of the system: given a noisy
  spoken reference ("Bob", "Mike S") it must find the one identity that
  means, create a new one when nobody matches, or hand the decision to a
  human - and it must never guess between plausible candidates and never
  mint a duplicate under concurrency.

CASCADE (deterministic order, stop at first success):
  1. Exact canonical-name match
  2. Exact alias match on the normalized spoken name
  3. Fuzzy match over all live identities at the acceptance threshold:
     exactly one candidate -> accept with its score as confidence,
     two or more -> review item, never a guess
  4. Context narrowing, only when step 3 found nothing and the spoken
     name is a single token: fuzzy again at a relaxed threshold over
     identities recently on the report's project. Running it only on a
     zero-candidate pool means context can rescue a partial reference
     but can never widen an existing ambiguity, and full names that
     miss everywhere fall through to creation instead.
  5. Create a new Incomplete identity seeded with the spoken name and
     its first token

CREATION RACE:
  Two concurrent reports naming the same brand-new person both reach
  step 5. The store's atomic create+bind lets exactly one win; the loser
  sees the alias collision, discards its tentative identity, and
  re-resolves once against the now-existing record. A second collision
  escalates to review instead of looping.

SEE ALSO:
  - identity/index.go: Lookup and create operations
  - review/types.go: Review items emitted here
*/
package resolve

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/match"
	"github.com/warp/payroll-engine/review"
)

// =============================================================================
// OUTCOME
// =============================================================================

type Kind string

const (
	// KindResolved: exact match, confidence 1.0.
	KindResolved Kind = "resolved"
	// KindResolvedFuzzy: single fuzzy candidate, confidence = its score.
	KindResolvedFuzzy Kind = "resolved_fuzzy"
	// KindCreated: no match anywhere, new Incomplete identity.
	KindCreated Kind = "created"
	// KindNeedsReview: ambiguity or repeated collision; a human decides.
	KindNeedsReview Kind = "needs_review"
)

// Outcome is the result of resolving one spoken name.
type Outcome struct {
	Kind       Kind
	Identity   *identity.Identity // nil for KindNeedsReview
	Confidence float64
	Review     *review.Item // set only for KindNeedsReview
}

// =============================================================================
// CONFIG
// =============================================================================

// Config carries the resolver tunables. The thresholds are documented
// choices, not load-bearing constants: any deterministic pair with
// Context < Accept preserves the cascade's semantics.
type Config struct {
	// AcceptThreshold is the minimum fuzzy score to consider a
	// candidate at step 3.
	AcceptThreshold float64
	// ContextThreshold is the relaxed minimum used at step 4 over the
	// project-context pool.
	ContextThreshold float64
}

func DefaultConfig() Config {
	return Config{AcceptThreshold: 0.70, ContextThreshold: 0.55}
}

// =============================================================================
// RESOLVER
// =============================================================================

// Request identifies one spoken name in its report context.
type Request struct {
	SpokenName string
	// ProjectID is the report's project, used only for context
	// narrowing at step 4.
	ProjectID string
	// ReportID links emitted review items back to the report.
	ReportID string
	// RecentWindowDays bounds the context pool's look-back.
	RecentWindowDays int

	// Tuple, when set, is the extracted time data held back on a
	// needs-review outcome so resolution can ledger it later.
	Tuple *review.PendingTuple
}

type Resolver struct {
	index   *identity.Index
	entries ledger.Store
	reviews review.Store
	cfg     Config
}

func NewResolver(index *identity.Index, entries ledger.Store, reviews review.Store, cfg Config) *Resolver {
	if cfg.AcceptThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Resolver{index: index, entries: entries, reviews: reviews, cfg: cfg}
}

// Resolve runs the cascade for one spoken name.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Outcome, error) {
	return r.resolve(ctx, req, false)
}

func (r *Resolver) resolve(ctx context.Context, req Request, retried bool) (Outcome, error) {
	name := req.SpokenName

	// Step 1: exact canonical name.
	if ident, err := r.index.LookupByCanonicalName(ctx, name); err != nil {
		return Outcome{}, err
	} else if ident != nil {
		return Outcome{Kind: KindResolved, Identity: ident, Confidence: 1.0}, nil
	}

	// Step 2: exact alias.
	if ident, err := r.index.LookupByAlias(ctx, name); err != nil {
		return Outcome{}, err
	} else if ident != nil {
		return Outcome{Kind: KindResolved, Identity: ident, Confidence: 1.0}, nil
	}

	// Step 3: fuzzy over the full pool.
	cands, err := r.index.CandidatesByFuzzy(ctx, name, r.cfg.AcceptThreshold)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case len(cands) == 1:
		zap.L().Debug("resolve: fuzzy match",
			zap.String("spoken", name),
			zap.String("identity_id", cands[0].Identity.ID),
			zap.Float64("score", cands[0].Score),
		)
		return Outcome{Kind: KindResolvedFuzzy, Identity: cands[0].Identity, Confidence: cands[0].Score}, nil
	case len(cands) >= 2:
		// Never guess between candidates.
		return r.needsReview(ctx, req, review.SubjectAmbiguousIdentity, cands)
	}

	// Step 4: context narrowing - only on a zero-candidate step 3.
	if req.ProjectID != "" && req.RecentWindowDays > 0 {
		outcome, done, err := r.resolveInContext(ctx, req)
		if err != nil {
			return Outcome{}, err
		}
		if done {
			return outcome, nil
		}
	}

	// Step 5: nobody matches - create.
	seeds := []string{name, match.FirstToken(name)}
	ident, err := r.index.CreateIdentity(ctx, name, seeds)
	if err == nil {
		return Outcome{Kind: KindCreated, Identity: ident, Confidence: 1.0}, nil
	}

	var collision *identity.AliasCollisionError
	if errors.As(err, &collision) {
		if !retried {
			// Lost the creation race: someone just created this person.
			// Re-resolve against the now-existing identity.
			zap.L().Debug("resolve: creation race lost, re-resolving",
				zap.String("spoken", name),
				zap.String("existing_id", collision.ExistingID),
			)
			return r.resolve(ctx, req, true)
		}
		// Second collision: stop retrying, escalate.
		cands := []identity.Candidate{}
		if existing, gerr := r.index.Get(ctx, collision.ExistingID); gerr == nil {
			cands = append(cands, identity.Candidate{Identity: existing, Score: 1.0})
		}
		return r.needsReview(ctx, req, review.SubjectAliasCollision, cands)
	}
	return Outcome{}, err
}

// resolveInContext retries the fuzzy pass at the relaxed threshold,
// restricted to identities with a ledger entry on the report's project
// within the recent window. done=false falls through to creation.
//
// Only partial references ("Bill", "Mike") qualify. A relaxed threshold
// over a small pool scores unrelated full names surprisingly high
// ("Dale Cooper" vs "Maria Lopez" clears 0.55), and a multi-token name
// that missed the accept threshold everywhere is a new person, not a
// fuzzy variant of whoever happens to be on the crew.
func (r *Resolver) resolveInContext(ctx context.Context, req Request) (Outcome, bool, error) {
	if strings.Contains(match.Normalize(req.SpokenName), " ") {
		return Outcome{}, false, nil
	}

	until := time.Now().UTC()
	since := until.AddDate(0, 0, -req.RecentWindowDays)
	pool, err := r.entries.IdentityIDsForProject(ctx, req.ProjectID, since, until)
	if err != nil {
		return Outcome{}, false, err
	}
	if len(pool) == 0 {
		return Outcome{}, false, nil
	}

	cands, err := r.index.CandidatesAmong(ctx, req.SpokenName, r.cfg.ContextThreshold, pool)
	if err != nil {
		return Outcome{}, false, err
	}
	switch {
	case len(cands) == 1:
		zap.L().Debug("resolve: context match",
			zap.String("spoken", req.SpokenName),
			zap.String("project_id", req.ProjectID),
			zap.String("identity_id", cands[0].Identity.ID),
			zap.Float64("score", cands[0].Score),
		)
		return Outcome{Kind: KindResolvedFuzzy, Identity: cands[0].Identity, Confidence: cands[0].Score}, true, nil
	case len(cands) >= 2:
		outcome, err := r.needsReview(ctx, req, review.SubjectAmbiguousIdentity, cands)
		return outcome, true, err
	}
	return Outcome{}, false, nil
}

func (r *Resolver) needsReview(ctx context.Context, req Request, subject review.Subject, cands []identity.Candidate) (Outcome, error) {
	item := &review.Item{
		ID:         uuid.NewString(),
		Subject:    subject,
		SpokenName: req.SpokenName,
		Candidates: review.NewCandidateRefs(cands),
		ReportID:   req.ReportID,
		Tuple:      req.Tuple,
		Status:     review.StatusOpen,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.reviews.AddItem(ctx, item); err != nil {
		return Outcome{}, err
	}
	zap.L().Info("resolve: needs review",
		zap.String("spoken", req.SpokenName),
		zap.String("subject", string(subject)),
		zap.Int("candidates", len(item.Candidates)),
		zap.String("report_id", req.ReportID),
	)
	return Outcome{Kind: KindNeedsReview, Review: item}, nil
}
