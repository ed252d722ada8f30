package scoring

import "leadpixel/models"

// Score caps per component. The total is clamped to [MinScore, MaxScore].
const (
	MinScore = 0
	MaxScore = 100

	pointsPerPageview = 2
	pageviewCap       = 20

	pointsPerSession = 5
	sessionCap       = 20

	timeBucketSeconds = 30 // 1 point per 30s on site
	timeCap           = 20

	scrollCap = 15 // linear in depth percentage

	pointsPerClick = 1
	clickCap       = 15

	pointsPerFormSubmit = 10
	formSubmitCap       = 10

	identifiedBonus = 15
	enrichedBonus   = 10
)

// BaseScore is seeded onto a visitor row created from its first event.
const BaseScore = 5

// Options selects the bonus components. The identity-resolution webhook path
// applies both bonuses; the direct pixel path applies neither. That asymmetry
// is intentional and part of the observable scoring behavior.
type Options struct {
	IdentifiedBonus bool
	EnrichedBonus   bool
}

// CalculateLeadScore maps an engagement counter snapshot to a 0-100 score.
// Pure and deterministic: the same snapshot always yields the same score.
func CalculateLeadScore(c models.VisitorCounters, identified, enriched bool, opts Options) int {
	score := 0

	score += capped(c.Pageviews*pointsPerPageview, pageviewCap)
	score += capped(c.Sessions*pointsPerSession, sessionCap)
	score += capped(c.TimeOnSite/timeBucketSeconds, timeCap)
	score += capped(c.ScrollDepth*scrollCap/100, scrollCap)
	score += capped(c.Clicks*pointsPerClick, clickCap)
	score += capped(c.FormSubmits*pointsPerFormSubmit, formSubmitCap)

	if opts.IdentifiedBonus && identified {
		score += identifiedBonus
	}
	if opts.EnrichedBonus && enriched {
		score += enrichedBonus
	}

	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

func capped(points, cap int) int {
	if points > cap {
		return cap
	}
	if points < 0 {
		return 0
	}
	return points
}
