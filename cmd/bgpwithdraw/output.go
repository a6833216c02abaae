package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/processor"
	"github.com/djlord-it/bgp-withdraw/internal/remote"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func durationOrDash(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return d.Round(time.Second).String()
}

func printIntents(w io.Writer, intents []domain.Intent, failed bool) {
	if len(intents) == 0 {
		fmt.Fprintln(w, "no intents")
		return
	}
	tw := newTable(w)
	if failed {
		fmt.Fprintln(tw, "ID\tRESOURCE\tCORRELATION\tRETRIES\tNEXT RETRY\tLAST ERROR")
		for _, in := range intents {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%s\t%s\n",
				in.ID, in.ResourceKey, orDash(in.CorrelationID),
				in.RetryCount, in.MaxRetries, timeOrDash(in.NextRetryAt), orDash(in.LastError))
		}
	} else {
		fmt.Fprintln(tw, "ID\tRESOURCE\tCORRELATION\tELIGIBLE AT\tRETRIES\tPOLICY\tTARGET\tLAST ERROR")
		for _, in := range intents {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
				in.ID, in.ResourceKey, orDash(in.CorrelationID),
				in.EligibleAt.UTC().Format(time.RFC3339), in.RetryCount, in.MaxRetries,
				orDash(in.Context.PolicyName), orDash(in.Context.TargetIP), orDash(in.LastError))
		}
	}
	tw.Flush()
}

func printHistory(w io.Writer, recs []domain.HistoryRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no history")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tRESOURCE\tCORRELATION\tSTATUS\tMETHOD\tCOMPLETED AT\tATTACK\tPROTECTION\tNOTES")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.ResourceKey, orDash(r.CorrelationID), r.Status, r.Method,
			r.CompletedAt.UTC().Format(time.RFC3339),
			durationOrDash(r.AttackDuration), durationOrDash(r.ProtectionDuration), orDash(r.Notes))
	}
	tw.Flush()
}

func printStats(w io.Writer, st domain.Stats) {
	tw := newTable(w)
	fmt.Fprintf(tw, "pending\t%d\n", st.Pending)
	fmt.Fprintf(tw, "failed\t%d\n", st.Failed)
	fmt.Fprintf(tw, "history\t%d\n", st.History)
	fmt.Fprintf(tw, "  succeeded\t%d\n", st.Succeeded)
	fmt.Fprintf(tw, "  abandoned\t%d\n", st.Abandoned)
	fmt.Fprintf(tw, "  stale\t%d\n", st.Stale)
	fmt.Fprintf(tw, "events today\t%d\n", st.EventsToday)
	tw.Flush()
}

func printReport(w io.Writer, r processor.Report) {
	if r.Skipped {
		fmt.Fprintln(w, "run skipped: another run holds the lock")
		return
	}
	if r.Err != nil {
		fmt.Fprintf(w, "run %s failed: %v\n", r.RunID, r.Err)
		return
	}

	fmt.Fprintf(w, "run %s: %d due, %d succeeded, %d failed, %d swept (%s)\n",
		r.RunID, len(r.Items), r.SucceededCount(), r.FailedCount(), len(r.Swept),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Interrupted {
		fmt.Fprintln(w, "run interrupted; intents not handled are left for the next run")
	}
	if len(r.Items) == 0 {
		return
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tRESOURCE\tACTION\tRESULT\tDETAIL")
	for _, it := range r.Items {
		result, detail := "ok", ""
		switch {
		case it.LostRace:
			result = "lost race"
		case it.Err != nil:
			result, detail = "store error", it.Err.Error()
		case !it.Outcome.Success:
			result, detail = "failed", it.Outcome.Error
			if res := it.Resolution; res != nil {
				if res.Kind == domain.ResolutionAbandoned {
					result = "abandoned"
				} else if res.NextRetryAt != nil {
					detail = fmt.Sprintf("retry at %s: %s", timeOrDash(res.NextRetryAt), detail)
				}
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", it.Intent.ID, it.Intent.ResourceKey, it.Action, result, orDash(detail))
	}
	tw.Flush()
}

func printState(w io.Writer, resource string, st remote.State, now time.Time, dwell time.Duration) {
	state := "withdrawn"
	if st.Active {
		state = "advertised"
	}
	fmt.Fprintf(w, "resource:    %s\n", resource)
	fmt.Fprintf(w, "state:       %s\n", state)
	fmt.Fprintf(w, "modified at: %s\n", timeOrDash(st.ModifiedAt))
	if st.ModifiedAt == nil {
		return
	}
	if ready := st.ModifiedAt.Add(dwell); now.Before(ready) {
		fmt.Fprintf(w, "changeable:  no, dwell time ends %s\n", ready.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "changeable:  yes")
	}
}
