package escalation

import (
	"fmt"
	"strings"
)

// Message is an educational notice sent alongside a remediation.
type Message struct {
	Category    string   `json:"category"`
	Level       int      `json:"level"`
	Title       string   `json:"title"`
	MainMessage string   `json:"mainMessage"`
	Explanation string   `json:"explanation"`
	Suggestions []string `json:"suggestions"`
	Tone        string   `json:"tone"`
}

type template struct {
	title       string
	main        string
	explanation string
	suggestions []string
}

var templates = map[string]template{
	"toxicity": {
		title:       "Language That Can Hurt",
		main:        "Your message contained words that can hurt or upset other people.",
		explanation: "We know you probably did not mean harm, but words affect how other members of the community feel.",
		suggestions: []string{
			"Try to express your opinion without negative words",
			`Use phrases like "I disagree with..." instead of attacks`,
			"Take a short break before replying when you are upset",
			"Think about how you would feel in the other person's place",
		},
	},
	"harassment": {
		title:       "Unfriendly Communication",
		main:        "Your message was perceived as unfriendly towards another member.",
		explanation: "Respectful communication makes the community better for everyone. We believe you mean well!",
		suggestions: []string{
			"Focus on ideas, not on people",
			`Use "I think that..." instead of "You are..."`,
			"Respect different opinions, everyone has their own perspective",
			"Try to find something positive in what the other person says",
		},
	},
	"spam": {
		title:       "Repetitive Messages",
		main:        "We noticed repetitive messages that can disrupt the conversation.",
		explanation: "Repeated messages make it hard for other members to follow important discussions.",
		suggestions: []string{
			"Send one clear message instead of several",
			"Edit your previous message if you want to add something",
			"Respect the pace of the conversation and let others reply",
			"If you do not get an answer right away, be patient",
		},
	},
	"hate_speech": {
		title:       "Exclusionary Language",
		main:        "Your message contained language that can exclude or offend certain groups.",
		explanation: "Our community values diversity and mutual respect. Messages like this can make someone feel unwelcome.",
		suggestions: []string{
			"Respect everyone regardless of their differences",
			"Express disagreement in a civil and constructive way",
			"Diversity of opinion makes us stronger as a community",
			"Try to understand perspectives different from yours",
		},
	},
	"threat": {
		title:       "Threatening Language",
		main:        "Your message was perceived as having a threatening tone.",
		explanation: "Threats, even as a joke, can make others feel uncomfortable or unsafe.",
		suggestions: []string{
			"Express your frustration constructively",
			"Use the official channels to report serious problems",
			"Take a break if you are very upset, strong emotions are normal",
			"Look for solutions instead of making threats",
		},
	},
	"general": {
		title:       "Communication To Improve",
		main:        "Your message could be improved for more positive communication.",
		explanation: "Respectful and positive communication makes the community more pleasant for all members.",
		suggestions: []string{
			"Re-read the community rules when you have time",
			"Think about how you would feel in the other person's place",
			"Contribute positively with constructive ideas",
			"Try to find something positive in every interaction",
		},
	},
}

// templateFor resolves a category to its template. Categories such as
// "hate_speech_severe" or "spam_minor" fall back to their base template.
func templateFor(category string) (string, template) {
	if t, ok := templates[category]; ok {
		return category, t
	}
	for key, t := range templates {
		if key != "general" && strings.HasPrefix(category, key) {
			return key, t
		}
	}
	return "general", templates["general"]
}

// Educational builds the educational notice for a category at a ladder
// level. The wording gets firmer as the level rises.
func Educational(category string, level int) Message {
	key, t := templateFor(NormalizeCategory(category))

	var intensity, tone string
	switch {
	case level == 1:
		intensity = "We noticed your message could be improved."
		tone = "This is just friendly guidance to help keep the atmosphere pleasant."
	case level == 2:
		intensity = "This is the second time we noticed a similar problem."
		tone = "Please pay more attention to how you communicate. Thank you for understanding!"
	case level == 3:
		intensity = "This is violation number 3 and we need to be firmer."
		tone = "You will get a short break to reflect on your communication."
	case level >= 4:
		intensity = fmt.Sprintf("This is violation number %d and the behaviour must change urgently.", level)
		tone = "Measures are getting stricter to protect the community."
	default:
		intensity = "Inappropriate behaviour detected."
		tone = "Please improve the way you communicate."
	}

	return Message{
		Category:    key,
		Level:       level,
		Title:       t.title,
		MainMessage: intensity + " " + t.main,
		Explanation: t.explanation,
		Suggestions: append([]string(nil), t.suggestions...),
		Tone:        tone,
	}
}
