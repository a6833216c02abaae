package notify

import (
	"fmt"
	"strings"
	"time"
)

const (
	header = "🛡️ *BGP WITHDRAWAL*"
	footer = "_Magic Transit On-Demand_"
)

// FormatRun builds the run notification. A run with one item gets a detailed
// message; a run with several gets a summary. Callers pass only the first
// occurrence of each resource, so intents resolved as duplicates are not
// repeated.
func FormatRun(run Run) Message {
	msg := Message{
		RunID:    run.RunID,
		Operator: run.Operator,
		Items:    run.Items,
		SentAt:   run.At.UTC(),
	}
	for _, it := range run.Items {
		if !it.Success {
			msg.Failed = true
		}
	}

	if len(run.Items) == 1 {
		msg.Text = formatSingle(run, run.Items[0])
	} else {
		msg.Text = formatSummary(run)
	}
	return msg
}

func formatSingle(run Run, it Item) string {
	var b strings.Builder
	b.WriteString(header + "\n\n")

	if it.Success {
		b.WriteString("🔚 *SCHEDULED WITHDRAWAL*\n\n")
		b.WriteString("✅ *Status:* PREFIX WITHDRAWN\n")
		fmt.Fprintf(&b, "🎯 *Method:* %s\n\n", methodLabel(it.Method))
		fmt.Fprintf(&b, "📍 *CIDR:* `%s`\n", it.ResourceKey)
		writeCorrelation(&b, it)
		fmt.Fprintf(&b, "🕐 *Withdrawn at:* %s\n", formatTime(run.At))
	} else {
		b.WriteString("❌ *SCHEDULED WITHDRAWAL FAILED*\n\n")
		fmt.Fprintf(&b, "📍 *CIDR:* `%s`\n", it.ResourceKey)
		writeCorrelation(&b, it)
		fmt.Fprintf(&b, "\n❌ *Error:* `%s`\n", it.Error)
		switch {
		case it.Abandoned:
			b.WriteString("\n⚠️ *Retries exhausted:* manual intervention needed\n")
		case it.NextRetryAt != nil:
			fmt.Fprintf(&b, "\n🔁 *Next retry:* %s\n", formatTime(*it.NextRetryAt))
		}
	}

	writeFooter(&b, run)
	return b.String()
}

func formatSummary(run Run) string {
	var ok, failed []Item
	for _, it := range run.Items {
		if it.Success {
			ok = append(ok, it)
		} else {
			failed = append(failed, it)
		}
	}

	var b strings.Builder
	b.WriteString(header + "\n\n")
	b.WriteString("🔚 *BULK SCHEDULED WITHDRAWAL*\n\n")
	fmt.Fprintf(&b, "⏱️ *Time:* %s\n\n", formatTime(run.At))
	fmt.Fprintf(&b, "📦 *Total:* %d\n", len(run.Items))
	fmt.Fprintf(&b, "✅ *Withdrawn:* %d\n", len(ok))
	fmt.Fprintf(&b, "❌ *Failed:* %d\n", len(failed))

	if len(ok) > 0 {
		b.WriteString("\n✅ *Successful:*\n")
		for _, it := range ok {
			fmt.Fprintf(&b, "  • `%s`\n", it.ResourceKey)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n❌ *Failed:*\n")
		for _, it := range failed {
			suffix := ""
			if it.Abandoned {
				suffix = " (abandoned)"
			}
			fmt.Fprintf(&b, "  • `%s`: %s%s\n", it.ResourceKey, it.Error, suffix)
		}
	}

	writeFooter(&b, run)
	return b.String()
}

func writeCorrelation(b *strings.Builder, it Item) {
	if it.CorrelationID != "" {
		fmt.Fprintf(b, "🔗 *Attack:* `%s`\n", it.CorrelationID)
	}
}

func writeFooter(b *strings.Builder, run Run) {
	operator := run.Operator
	if operator == "" {
		operator = "Scheduled Task (Auto)"
	}
	fmt.Fprintf(b, "\n🤖 *Operator:* %s\n\n%s", operator, footer)
}

func methodLabel(method string) string {
	switch method {
	case "already-satisfied":
		return "Already withdrawn (no change)"
	case "manual":
		return "Manual"
	default:
		return "Auto-scheduled"
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
