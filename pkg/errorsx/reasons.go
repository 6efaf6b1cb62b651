package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonToolDuplicate ReasonCode = "tool_duplicate"
	ReasonToolUnknown   ReasonCode = "tool_unknown"
	ReasonToolArgs      ReasonCode = "tool_args"
	ReasonToolExec      ReasonCode = "tool_exec"
	ReasonToolTimeout   ReasonCode = "tool_timeout"

	ReasonLLMSelect    ReasonCode = "llm_select"
	ReasonLLMFinalize  ReasonCode = "llm_finalize"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"
	ReasonLLMMalformed ReasonCode = "llm_malformed"

	ReasonStatsFetch ReasonCode = "stats_fetch"
	ReasonStatsParse ReasonCode = "stats_parse"

	ReasonTransportSend ReasonCode = "transport_send"
)
