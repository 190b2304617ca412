package admission

import (
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/trawlhq/trawl/modules/overrides"
)

// StatusHandler renders per-tenant admission state: the concurrency ceiling,
// the live active count and the deferred backlog. Tenants default to every
// team with a deferred backlog; ?team= narrows the view.
func (d *Dispatcher) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()

	teams := r.URL.Query()["team"]
	if len(teams) == 0 {
		var err error
		teams, err = d.ledger.DeferredTeams(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sort.Strings(teams)
	}

	x := table.NewWriter()
	x.AppendHeader(table.Row{"team", "ceiling", "active", "deferred"})

	for _, teamID := range teams {
		ceiling := d.admitter.limits.ConcurrencyLimit(teamID, overrides.ConcurrencyCrawl)

		active, err := d.ledger.CountActive(ctx, teamID, now)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		deferred, err := d.ledger.CountDeferred(ctx, teamID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		x.AppendRows([]table.Row{
			{teamID, ceiling, active, deferred},
		})
	}

	x.AppendSeparator()

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, x.Render())
}
