package tradecoverage

import "strings"

// exclusionPhrases lists policy wording that removes a trade from coverage.
// Phrases are checked in order and the first match is reported.
var exclusionPhrases = map[string][]string{
	"roofing": {
		"no roofing",
		"roofing excluded",
		"excludes roofing",
		"roofing exclusion",
		"roof work excluded",
		"no roof work",
	},
	"excavation": {
		"no excavation",
		"excavation excluded",
		"excludes excavation",
		"excavation exclusion",
		"no digging",
		"trenching excluded",
	},
	"crane_operator": {
		"no crane",
		"crane operations excluded",
		"crane excluded",
		"excludes crane",
		"crane exclusion",
		"rigging excluded",
	},
	"demolition": {
		"no demolition",
		"demolition excluded",
		"excludes demolition",
		"demolition exclusion",
		"wrecking excluded",
	},
	"scaffolding": {
		"no scaffolding",
		"scaffolding excluded",
		"excludes scaffolding",
		"scaffold exclusion",
	},
	"structural_steel": {
		"no steel erection",
		"steel erection excluded",
		"excludes steel erection",
		"structural steel excluded",
	},
	"electrical": {
		"no electrical",
		"electrical excluded",
		"excludes electrical",
		"electrical work exclusion",
	},
	"hvac": {
		"no hvac",
		"hvac excluded",
		"excludes hvac",
		"mechanical work excluded",
	},
}

// genericPhrases builds the fallback phrase set for a trade not in the table.
func genericPhrases(trade string) []string {
	name := displayName(trade)
	return []string{
		"no " + name,
		name + " excluded",
		"excludes " + name,
		name + " exclusion",
	}
}

func phrasesFor(trade string) []string {
	if p, ok := exclusionPhrases[trade]; ok {
		return p
	}
	return genericPhrases(trade)
}

// classificationTrades maps NCCI classification codes to the trades they cover.
var classificationTrades = map[string][]string{
	"5022": {"masonry"},
	"5040": {"structural_steel", "steel_erection", "crane_operator"},
	"5102": {"glazing"},
	"5183": {"plumbing"},
	"5190": {"electrical"},
	"5213": {"concrete"},
	"5348": {"tile", "flooring"},
	"5403": {"carpentry"},
	"5437": {"carpentry", "cabinetry"},
	"5445": {"drywall", "insulation"},
	"5474": {"painting"},
	"5537": {"hvac"},
	"5551": {"roofing"},
	"5645": {"carpentry", "framing"},
	"5701": {"demolition"},
	"6217": {"excavation", "grading"},
}

// highRiskTrades must carry hired and non-owned auto coverage.
var highRiskTrades = []string{"carpentry", "roofing", "excavation", "crane_operator"}

// Trade-specific minimums used by ValidateTradeRestrictions.
const (
	roofingGLOccurrence    = 2_000_000
	roofingGLAggregate     = 4_000_000
	roofingUmbrella        = 2_000_000
	excavationGLOccurrence = 2_000_000
	excavationUmbrella     = 2_000_000
	craneUmbrella          = 3_000_000
	scaffoldGLOccurrence   = 2_000_000
	scaffoldWCEachAccident = 1_000_000
)

// xcuPhrases indicate an explosion, collapse and underground exclusion.
var xcuPhrases = []string{"xcu", "explosion, collapse", "explosion collapse", "underground exclusion", "collapse excluded"}

func displayName(trade string) string {
	return strings.ReplaceAll(trade, "_", " ")
}
