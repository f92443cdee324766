package models

// Match score components. Location is a hard filter, so the base applies to
// every surviving candidate; the open-subjects fallback replaces the subject
// bonus when the volunteer lists no subjects at all.
const (
	MatchBaseScore      = 50
	MatchSubjectBonus   = 30
	MatchOpenFallback   = 10
	MatchLanguageBonus  = 20
	ReasonSubjectMatch  = "Subject match"
	ReasonLanguageMatch = "Language match"
)

// MatchCandidate is a pending request annotated with its match score and the
// human-readable reasons the score was awarded.
type MatchCandidate struct {
	PendingCandidate
	MatchScore   int      `json:"match_score"`
	MatchReasons []string `json:"match_reasons"`
}
