// Package rewards scores constructive messages and tracks the reputation
// milestones users reach with the points they earn.
package rewards

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opensource-community/heron/internal/domain"
)

// Feedback tiers of a positive message.
const (
	FeedbackNone        = "none"
	FeedbackPositive    = "positive"
	FeedbackHelpful     = "helpful"
	FeedbackExceptional = "exceptional"
)

// Scores are kept in hundredths.
const (
	keywordScore     = 10
	patternScore     = 20
	questionScore    = 10
	explanationScore = 15

	positiveThreshold    = 30
	helpfulThreshold     = 50
	exceptionalThreshold = 70
)

var positiveKeywords = []string{
	"mulțumesc", "mulțumiri", "apreciez", "felicitări", "bravo",
	"excelent", "minunat", "frumos", "bună idee", "ajutor", "respect",
	"îmi pare rău", "scuze", "îmi cer scuze", "congratulări", "felicit",
	"susțin", "sunt de acord", "înțeleg", "ai dreptate", "bun punct",
	"interesant", "util", "instructiv", "educativ", "inspiring",
	"thank you", "thanks", "appreciate", "congratulations", "awesome",
	"excellent", "wonderful", "great idea", "helpful",
	"sorry", "apologize", "my apologies", "well done", "good point",
	"interesting", "useful", "educational", "support",
}

var positivePatterns = []string{
	"cum pot să ajut", "pot să te ajut", "să colaborăm", "să lucrăm împreună",
	"să discutăm", "să ne înțelegem", "să găsim o soluție", "să rezolvăm",
	"how can i help", "can i help", "let's collaborate", "work together",
	"let's discuss", "let's understand", "find a solution", "let's solve",
}

var explanationWords = []string{"pentru că", "deoarece", "because", "since"}

// Analysis is the outcome of scoring one message.
type Analysis struct {
	Positive   bool     `json:"positive"`
	Score      float64  `json:"score"`
	Categories []string `json:"categories"`
	Points     int      `json:"points"`
	Feedback   string   `json:"feedback"`
}

// Analyze scores a message for constructive behaviour. Every keyword and
// phrase found adds to the score; long questions and long explanations
// add a bonus.
func Analyze(content string) Analysis {
	text := strings.ToLower(content)
	a := Analysis{Categories: []string{}, Feedback: FeedbackNone}

	score := 0
	for _, kw := range positiveKeywords {
		if strings.Contains(text, kw) {
			score += keywordScore
		}
	}
	for _, p := range positivePatterns {
		if strings.Contains(text, p) {
			score += patternScore
		}
	}

	length := utf8.RuneCountInString(content)
	if length > 50 && strings.Contains(content, "?") {
		score += questionScore
		a.Categories = append(a.Categories, "constructive_question")
	}
	if length > 100 && containsAny(text, explanationWords) {
		score += explanationScore
		a.Categories = append(a.Categories, "detailed_explanation")
	}

	a.Score = float64(score) / 100
	switch {
	case score >= exceptionalThreshold:
		a.Points, a.Feedback = 10, FeedbackExceptional
		a.Categories = append(a.Categories, "exceptional_behavior")
	case score >= helpfulThreshold:
		a.Points, a.Feedback = 5, FeedbackHelpful
		a.Categories = append(a.Categories, "helpful_behavior")
	case score >= positiveThreshold:
		a.Points, a.Feedback = 2, FeedbackPositive
		a.Categories = append(a.Categories, "positive_behavior")
	}
	a.Positive = a.Points > 0
	return a
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

var feedbackTemplates = map[string][]string{
	FeedbackPositive: {
		"🌟 Positive message detected! +%d reputation points!",
		"✨ Thanks for the constructive attitude! +%d points!",
		"🙂 Thanks for the positive contribution! +%d points!",
	},
	FeedbackHelpful: {
		"🌟 Very helpful for the community! +%d points!",
		"💡 Excellent contribution, keep it up! +%d points!",
		"🤝 Your helpful spirit is appreciated! +%d points!",
	},
	FeedbackExceptional: {
		"🏆 Exemplary behaviour, a model for the community! +%d points!",
		"👑 Exceptional contribution, thanks for your dedication! +%d points!",
		"🌟 Messages like this make the community better! +%d points!",
	},
}

// FeedbackMessage renders the acknowledgement shown to a user. The
// template is picked per user so repeated feedback stays consistent.
func FeedbackMessage(a Analysis, userID int64) string {
	templates := feedbackTemplates[a.Feedback]
	if len(templates) == 0 {
		return ""
	}
	idx := userID % int64(len(templates))
	if idx < 0 {
		idx = -idx
	}
	return fmt.Sprintf(templates[idx], a.Points)
}

// Milestone is a reputation threshold and the role it unlocks.
type Milestone struct {
	Points int    `json:"milestone"`
	Role   string `json:"role"`
	Badge  string `json:"badge"`
}

// Achievement is a milestone reached by a user.
type Achievement struct {
	Milestone
	AchievedAt time.Time `json:"achievedAt"`
}

// Milestones are ordered by threshold.
var Milestones = []Milestone{
	{50, "Helpful Member", "🌟"},
	{100, "Community Helper", "⭐"},
	{250, "Super Helper", "💫"},
	{500, "Community Champion", "🏆"},
	{1000, "Elite Member", "👑"},
}

// Reached returns the milestones crossed when a total moves from before
// to after.
func Reached(before, after int) []Milestone {
	var reached []Milestone
	for _, m := range Milestones {
		if before < m.Points && after >= m.Points {
			reached = append(reached, m)
		}
	}
	return reached
}

// MilestoneCount returns how many milestones a total has reached.
func MilestoneCount(total int) int {
	n := 0
	for _, m := range Milestones {
		if total >= m.Points {
			n++
		}
	}
	return n
}

// Achievements replays transactions, given newest first, in time order and
// returns each milestone reached with the time of the transaction that
// crossed it.
func Achievements(txs []*domain.RewardTransaction) []Achievement {
	ordered := make([]*domain.RewardTransaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		ordered = append(ordered, txs[i])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	achievements := []Achievement{}
	total := 0
	for _, tx := range ordered {
		before := total
		total += tx.Points
		for _, m := range Reached(before, total) {
			achievements = append(achievements, Achievement{Milestone: m, AchievedAt: tx.CreatedAt})
		}
	}
	return achievements
}
