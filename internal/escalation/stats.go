package escalation

import (
	"github.com/opensource-community/heron/internal/domain"
)

// Summarize aggregates the escalation actions of a reporting window.
// Actions from other sources and whitelist skips are ignored. The
// escalation rate is the share of distinct levels seen that are 4 or
// higher.
func Summarize(actions []*domain.ModerationAction, days int) domain.EscalationStats {
	stats := domain.EscalationStats{
		Days:              days,
		LevelDistribution: map[int]int{},
		MostCommonLevel:   1,
	}

	for _, a := range actions {
		if a.Source != domain.SourceEscalation || a.Level <= LevelWhitelisted {
			continue
		}
		stats.LevelDistribution[a.Level]++
		stats.TotalViolations++
	}

	if len(stats.LevelDistribution) == 0 {
		return stats
	}

	best, high := 0, 0
	for level := 1; level <= LevelExtreme; level++ {
		n := stats.LevelDistribution[level]
		if n > best {
			best, stats.MostCommonLevel = n, level
		}
		if n > 0 && level >= 4 {
			high++
		}
	}
	stats.EscalationRate = float64(high) / float64(len(stats.LevelDistribution))
	return stats
}
