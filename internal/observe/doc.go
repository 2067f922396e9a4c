// Package observe holds the sous telemetry: metric instruments, spans and
// trace-aware logging.
//
// Each accepted turn produces a [SpanAssistantReply] span tagged with
// [AttrTurnID], followed by a [SpanSpeak] span tagged with [AttrBackend] and
// [AttrSessionID]. The first remote speak of a process nests a
// [SpanCredentialFetch]; later ones reuse the memoized credential and have
// none. Control API requests get server spans from [Middleware]. Barge-in
// cancels the speak span, which [EndSpan] records as an event rather than
// an error.
//
// [Setup] installs the SDK providers as the OTel globals and bridges the
// meter provider to Prometheus, so every instrument in [Metrics] appears on
// /metrics with dots replaced by underscores. Components default to
// [DefaultMetrics]; tests build their own with [NewMetrics] on a manual
// reader.
package observe
