package intent

// technicalTerms are words that only a founder with engineering background
// tends to use unprompted. Plain product words (build, app, tool, manager)
// are deliberately absent.
var technicalTerms = map[string]struct{}{
	"api": {}, "apis": {}, "backend": {}, "frontend": {}, "database": {}, "sql": {},
	"postgres": {}, "mysql": {}, "mongodb": {}, "redis": {}, "python": {}, "javascript": {},
	"typescript": {}, "react": {}, "vue": {}, "angular": {}, "node": {}, "nodejs": {},
	"golang": {}, "rust": {}, "java": {}, "kotlin": {}, "swift": {}, "django": {},
	"flask": {}, "fastapi": {}, "rails": {}, "kubernetes": {}, "docker": {}, "aws": {},
	"gcp": {}, "azure": {}, "microservice": {}, "microservices": {}, "deploy": {},
	"deployment": {}, "code": {}, "coding": {}, "programming": {}, "architecture": {},
	"framework": {}, "server": {}, "serverless": {}, "git": {}, "github": {},
	"algorithm": {}, "devops": {}, "infrastructure": {}, "schema": {}, "endpoint": {},
	"endpoints": {}, "rest": {}, "graphql": {}, "grpc": {}, "websocket": {}, "sdk": {},
	"ci": {}, "cd": {}, "terraform": {}, "oauth": {}, "jwt": {}, "latency": {},
	"scalable": {}, "refactor": {}, "repository": {}, "compiler": {}, "linux": {},
}

var businessTerms = map[string]struct{}{
	"customer": {}, "customers": {}, "market": {}, "markets": {}, "revenue": {},
	"budget": {}, "profit": {}, "sales": {}, "pricing": {}, "price": {},
	"monetize": {}, "monetization": {}, "business": {}, "startup": {}, "investor": {},
	"investors": {}, "funding": {}, "team": {}, "teams": {}, "growth": {},
	"competitor": {}, "competitors": {}, "subscription": {}, "roi": {},
	"marketing": {}, "small": {}, "launch": {}, "clients": {}, "client": {},
	"b2b": {}, "b2c": {}, "saas": {}, "margin": {}, "margins": {}, "churn": {},
	"retention": {}, "acquisition": {}, "audience": {}, "niche": {}, "sell": {},
	"selling": {}, "brand": {}, "pitch": {}, "cost": {}, "costs": {}, "affordable": {},
}

var firstTimePhrases = []string{
	"first startup", "first time", "first business", "never built", "never started",
	"new to this", "no experience", "not technical", "non-technical", "non technical",
}

var experiencedPhrases = []string{
	"previous startup", "last startup", "years of experience", "exited", "serial founder",
	"i founded", "co-founded", "cofounded", "ran a company", "sold my company",
}

// Turn intent phrases, checked in priority order finalize > requestValidation > affirm.
var (
	finalizePhrases = []string{
		"start coding", "begin generation", "start generating", "generate the code",
		"let's build it", "lets build it", "let's finalize", "lets finalize", "finalize",
		"lock it in", "sign off", "ship it", "go build", "start building", "we're done",
		"we are done", "that's final", "that is final", "build it now",
	}
	validationPhrases = []string{
		"validate", "validation", "does this make sense", "what do you think",
		"sanity check", "is this viable", "review my idea", "business model",
		"business case", "business plan", "market fit", "feedback on",
	}
	affirmWords = map[string]struct{}{
		"yes": {}, "yep": {}, "yeah": {}, "agreed": {}, "agree": {}, "approve": {},
		"approved": {}, "correct": {}, "ok": {}, "okay": {}, "sure": {}, "confirm": {},
		"confirmed": {}, "absolutely": {},
	}
	affirmPhrases = []string{
		"sounds good", "looks good", "that's right", "go ahead", "let's do it",
		"lets do it", "works for me", "happy with",
	}
	negationPrefixes = []string{"no", "not yet", "don't", "dont", "wait", "hold on", "nope"}

	// negationWords cancel an intent phrase that follows within negationWindow
	// tokens of the same clause.
	negationWords = map[string]struct{}{
		"no": {}, "not": {}, "never": {}, "nope": {}, "don't": {}, "dont": {},
		"doesn't": {}, "doesnt": {}, "didn't": {}, "didnt": {}, "isn't": {}, "isnt": {},
		"aren't": {}, "arent": {}, "can't": {}, "cant": {}, "cannot": {}, "won't": {},
		"wont": {}, "shouldn't": {}, "haven't": {}, "hardly": {},
	}

	// discoveryValidationWords request validation only while still in DISCOVERY.
	discoveryValidationWords = []string{"business"}
)

// negationWindow is how many tokens before a phrase are searched for a negation.
const negationWindow = 4
