package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP bot_uptime_seconds Time since the bot started\n")
	sb.WriteString("# TYPE bot_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("bot_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_messages_received_total Deliveries accepted into the worker queue\n")
	sb.WriteString("# TYPE bot_messages_received_total counter\n")
	sb.WriteString(fmt.Sprintf("bot_messages_received_total %d\n", snap.Received))
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_messages_duplicate_total Deliveries skipped as already processed\n")
	sb.WriteString("# TYPE bot_messages_duplicate_total counter\n")
	sb.WriteString(fmt.Sprintf("bot_messages_duplicate_total %d\n", snap.Duplicates))
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_messages_rejected_total Deliveries refused before intake, by reason\n")
	sb.WriteString("# TYPE bot_messages_rejected_total counter\n")
	for _, reason := range sortedKeys(snap.Rejected) {
		count := snap.Rejected[reason]
		sb.WriteString(fmt.Sprintf("bot_messages_rejected_total{reason=\"%s\"} %d\n", reason, count))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_queue_full_total Deliveries dropped because the worker queue was saturated\n")
	sb.WriteString("# TYPE bot_queue_full_total counter\n")
	sb.WriteString(fmt.Sprintf("bot_queue_full_total %d\n", snap.QueueFull))
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_messages_processed_total Completed deliveries by outcome\n")
	sb.WriteString("# TYPE bot_messages_processed_total counter\n")
	for _, outcome := range sortedKeys(snap.Processed) {
		count := snap.Processed[outcome]
		sb.WriteString(fmt.Sprintf("bot_messages_processed_total{outcome=\"%s\"} %d\n", outcome, count))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_processing_duration_ms_total Total processing duration in milliseconds\n")
	sb.WriteString("# TYPE bot_processing_duration_ms_total counter\n")
	sb.WriteString(fmt.Sprintf("bot_processing_duration_ms_total %d\n", snap.ProcessedDur))
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_action_charges_total Committed paid actions by action key\n")
	sb.WriteString("# TYPE bot_action_charges_total counter\n")
	for _, action := range sortedKeys(snap.ActionCharges) {
		count := snap.ActionCharges[action]
		sb.WriteString(fmt.Sprintf("bot_action_charges_total{action=\"%s\"} %d\n", action, count))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_replies_sent_total Outbound replies delivered\n")
	sb.WriteString("# TYPE bot_replies_sent_total counter\n")
	sb.WriteString(fmt.Sprintf("bot_replies_sent_total %d\n", snap.RepliesSent))
	sb.WriteString("\n")

	sb.WriteString("# HELP bot_reply_failures_total Outbound replies that failed to send\n")
	sb.WriteString("# TYPE bot_reply_failures_total counter\n")
	sb.WriteString(fmt.Sprintf("bot_reply_failures_total %d\n", snap.ReplyFailures))
	sb.WriteString("\n")

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
