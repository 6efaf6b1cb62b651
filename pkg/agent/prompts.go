package agent

// Default system prompts for the two phases. Both can be overridden in
// configuration to tune the agent's voice without a rebuild.
const (
	DefaultSelectPrompt = "Your task is to determine what UFC fight data to retrieve. " +
		"Analyze the user's query to choose appropriate parameters for the available tools. " +
		"Consider increasing max_events (up to 10) if you need to look beyond the next event, " +
		"for example when the user asks for title fights or specific fighters that may not " +
		"appear in the immediate event. If no tool is relevant, answer the user directly."

	DefaultFinalizePrompt = "Provide insightful fight recommendations based on the user's " +
		"request and the UFC data. If no data is available, acknowledge that to the user. " +
		"Keep your analysis concise but informative and engaging."
)
