/*
export.go - CSV payroll export

PURPOSE:
  Writes the payroll CSV consumed downstream. The column order is a
  fixed external contract:

    employee_number, employee_name, project_name, report_date,
    regular_hours, overtime_hours, doubletime_hours, total_hours,
    hourly_rate, overtime_rate, total_pay

  One row per counted entry: superseded history and rejected entries
  never reach payroll.

SEE ALSO:
  - ledger/aggregate.go: The same counted-entry filter
*/
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
)

// csvHeader is the bit-exact export column order.
var csvHeader = []string{
	"employee_number",
	"employee_name",
	"project_name",
	"report_date",
	"regular_hours",
	"overtime_hours",
	"doubletime_hours",
	"total_hours",
	"hourly_rate",
	"overtime_rate",
	"total_pay",
}

// ProjectNamer maps a project id to its display name. The project
// catalog lives outside this core; the default echoes the id.
type ProjectNamer func(projectID string) string

// =============================================================================
// EXPORTER
// =============================================================================

type Exporter struct {
	entries    ledger.Store
	identities identity.Store
	namer      ProjectNamer
}

func NewExporter(entries ledger.Store, identities identity.Store, namer ProjectNamer) *Exporter {
	if namer == nil {
		namer = func(id string) string { return id }
	}
	return &Exporter{entries: entries, identities: identities, namer: namer}
}

// WriteCSV streams the payroll rows for entries dated in [from, to].
// Rows are ordered by date, then employee name, then entry id, so the
// same data always exports byte-identically.
func (x *Exporter) WriteCSV(ctx context.Context, w io.Writer, from, to time.Time) error {
	entries, err := x.entries.EntriesInRange(ctx, ledger.Day(from), ledger.Day(to))
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	type row struct {
		entry *ledger.Entry
		ident *identity.Identity
	}
	rows := make([]row, 0, len(entries))
	idents := make(map[string]*identity.Identity)
	for _, e := range entries {
		if !e.Counted() {
			continue
		}
		ident, ok := idents[e.IdentityID]
		if !ok {
			ident, err = x.identities.GetIdentity(ctx, e.IdentityID)
			if err != nil {
				return fmt.Errorf("load identity %s: %w", e.IdentityID, err)
			}
			idents[e.IdentityID] = ident
		}
		rows = append(rows, row{entry: e, ident: ident})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.entry.Date.Equal(b.entry.Date) {
			return a.entry.Date.Before(b.entry.Date)
		}
		if a.ident.CanonicalName != b.ident.CanonicalName {
			return a.ident.CanonicalName < b.ident.CanonicalName
		}
		return a.entry.ID < b.entry.ID
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		e := r.entry
		rec := []string{
			r.ident.EmployeeNumber,
			r.ident.CanonicalName,
			x.namer(e.ProjectID),
			e.Date.Format("2006-01-02"),
			e.Hours.Regular.String(),
			e.Hours.Overtime.String(),
			e.Hours.Doubletime.String(),
			e.Hours.Total().String(),
			e.Rate.Hourly.StringFixed(2),
			e.Rate.Overtime.StringFixed(2),
			e.TotalPay.StringFixed(2),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
