package keywords

// defaultRules returns the statement table in registration order.
// Order matters: specific forms ("talk to", "send file to") precede the
// general ones that would also match them ("talk", "send file").
func defaultRules() []Rule {
	var rules []Rule
	for _, section := range [][]Rule{
		commentRules(),
		sqlRules(),
		controlRules(),
		webSessionRules(),
		hearRules(),
		dataRules(),
		sessionRules(),
		httpRules(),
		conversationRules(),
		browserRules(),
		fileRules(),
	} {
		rules = append(rules, section...)
	}
	return rules
}
