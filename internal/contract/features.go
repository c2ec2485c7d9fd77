package contract

import "strings"

type cue struct {
	label string
	words []string
}

// featureCues map words a founder uses to the feature they imply.
var featureCues = []cue{
	{"task management", []string{"task", "to-do", "todo list", "kanban"}},
	{"user authentication", []string{"login", "log in", "sign in", "sign up", "signup", "account", "auth"}},
	{"payments", []string{"payment", "checkout", "billing", "subscription", "stripe"}},
	{"team collaboration", []string{"team", "collaborat", "share with"}},
	{"notifications", []string{"notification", "notify", "reminder", "alert"}},
	{"dashboard", []string{"dashboard", "analytics", "metrics"}},
	{"search", []string{"search", "filter"}},
	{"reporting", []string{"report", "export"}},
	{"messaging", []string{"chat", "message", "inbox"}},
	{"scheduling", []string{"calendar", "schedule", "booking", "appointment"}},
	{"file uploads", []string{"upload", "attachment", "documents"}},
	{"mobile app", []string{"mobile", "ios", "android"}},
}

var constraintCues = []cue{
	{"limited budget", []string{"budget is limited", "limited budget", "tight budget", "low budget", "bootstrapped", "cheap"}},
	{"tight timeline", []string{"asap", "next week", "in a month", "deadline", "quickly"}},
	{"mobile support", []string{"mobile", "phone"}},
	{"regulatory compliance", []string{"gdpr", "hipaa", "compliance", "regulat"}},
}

func detectFeatures(texts []string) []string {
	return detect(texts, featureCues)
}

func detectConstraints(texts []string) []string {
	return detect(texts, constraintCues)
}

func detect(texts []string, cues []cue) []string {
	joined := strings.ToLower(strings.Join(texts, "\n"))
	var out []string
	for _, c := range cues {
		for _, w := range c.words {
			if strings.Contains(joined, w) {
				out = append(out, c.label)
				break
			}
		}
	}
	return out
}
