/*
aggregate.go - Read-side sums over non-superseded entries

PURPOSE:
  Answers "how many hours / how much pay" questions by summing ledger
  entries. Superseded and Rejected entries are always excluded - this is
  the mechanism by which corrections take effect without mutating
  history: the original stays in the ledger, the sums just stop seeing it.

SEE ALSO:
  - ledger.go: The write side
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// HoursSummary is the summed worked time and pay for one identity.
type HoursSummary struct {
	Regular    decimal.Decimal
	Overtime   decimal.Decimal
	Doubletime decimal.Decimal
	TotalPay   decimal.Decimal
}

func (s HoursSummary) add(e *Entry) HoursSummary {
	return HoursSummary{
		Regular:    s.Regular.Add(e.Hours.Regular),
		Overtime:   s.Overtime.Add(e.Hours.Overtime),
		Doubletime: s.Doubletime.Add(e.Hours.Doubletime),
		TotalPay:   s.TotalPay.Add(e.TotalPay),
	}
}

func zeroSummary() HoursSummary {
	return HoursSummary{
		Regular:    decimal.Zero,
		Overtime:   decimal.Zero,
		Doubletime: decimal.Zero,
		TotalPay:   decimal.Zero,
	}
}

// HoursForIdentity sums entries with status in {Pending, Approved} for
// the identity, Date in [from, to].
func (a *Aggregator) HoursForIdentity(ctx context.Context, identityID string, from, to time.Time) (HoursSummary, error) {
	entries, err := a.store.EntriesByIdentity(ctx, identityID, Day(from), Day(to))
	if err != nil {
		return HoursSummary{}, err
	}
	sum := zeroSummary()
	for _, e := range entries {
		if e.Counted() {
			sum = sum.add(e)
		}
	}
	return sum, nil
}

// ProjectCostRow is one identity's share of a project's labor cost.
type ProjectCostRow struct {
	IdentityID string
	Hours      HoursSummary
}

// ProjectCost is a project's labor cost grouped by identity.
type ProjectCost struct {
	ProjectID string
	Rows      []ProjectCostRow
	Total     decimal.Decimal
}

// LaborCostForProject sums counted entries for the project in range,
// grouped by identity, with a project-wide pay total. Rows are sorted
// by identity id for deterministic output.
func (a *Aggregator) LaborCostForProject(ctx context.Context, projectID string, from, to time.Time) (*ProjectCost, error) {
	entries, err := a.store.EntriesByProject(ctx, projectID, Day(from), Day(to))
	if err != nil {
		return nil, err
	}

	byIdentity := make(map[string]HoursSummary)
	total := decimal.Zero
	for _, e := range entries {
		if !e.Counted() {
			continue
		}
		sum, ok := byIdentity[e.IdentityID]
		if !ok {
			sum = zeroSummary()
		}
		byIdentity[e.IdentityID] = sum.add(e)
		total = total.Add(e.TotalPay)
	}

	cost := &ProjectCost{ProjectID: projectID, Total: total}
	for id, sum := range byIdentity {
		cost.Rows = append(cost.Rows, ProjectCostRow{IdentityID: id, Hours: sum})
	}
	sort.Slice(cost.Rows, func(i, j int) bool { return cost.Rows[i].IdentityID < cost.Rows[j].IdentityID })
	return cost, nil
}
