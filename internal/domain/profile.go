package domain

// FounderType is the archetype of a founder.
type FounderType string

const (
	FounderTechnical FounderType = "technical"
	FounderBusiness  FounderType = "business"
	FounderHybrid    FounderType = "hybrid"
	FounderUnknown   FounderType = "unknown"
)

// ParseFounderType maps a label to a FounderType. Unknown labels report false.
func ParseFounderType(label string) (FounderType, bool) {
	switch FounderType(label) {
	case FounderTechnical, FounderBusiness, FounderHybrid, FounderUnknown:
		return FounderType(label), true
	}
	return FounderUnknown, false
}

// FounderProfile is the archetype classification of a founder.
// It is computed once per session and only replaced by explicit re-classification.
type FounderProfile struct {
	Type               FounderType `json:"type"`
	Confidence         float64     `json:"confidence"`
	TechnicalSkills    []string    `json:"technical_skills,omitempty"`
	BusinessExperience string      `json:"business_experience"`
	Source             string      `json:"source"` // capability or heuristic
}
