package pipeline

import (
	"fmt"
	"strings"

	"github.com/kokorochat/kokoro/internal/composer"
	"github.com/kokorochat/kokoro/internal/profile"
	"github.com/kokorochat/kokoro/internal/relnet"
)

// crossCharacter carries the relationship edge to a second character the
// user's message mentioned.
type crossCharacter struct {
	other    *profile.Profile
	edge     relnet.Edge
	conflict bool
}

// buildSystemPrompt renders the character profile and the turn's directive
// into the system prompt for the generation call. The directive's numeric
// signal is translated into plain guidance the model can follow. rel may be
// nil when no second character is involved.
func buildSystemPrompt(p *profile.Profile, d composer.Directive, rel *crossCharacter) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s. Stay in character at all times.\n", p.Name)
	if p.Description != "" {
		b.WriteString(p.Description)
		b.WriteString("\n")
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "Personality: %s.\n", strings.Join(p.Traits, ", "))
	}

	fmt.Fprintf(&b, "\nCurrent emotional state: %s (intensity %.2f).\n",
		d.Emotion.Current, d.Emotion.Intensity)
	fmt.Fprintf(&b, "Relationship with this user: %s (familiarity %.0f/100, trust %.0f/100). Current mood: %s.\n",
		d.Character.Level, d.Character.Familiarity, d.Character.Trust, d.Character.Mood())

	if guidance := signalGuidance(d.Signal); len(guidance) > 0 {
		b.WriteString("Adjust your reply accordingly:\n")
		for _, g := range guidance {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}

	if rel != nil {
		fmt.Fprintf(&b, "\nThe user mentioned %s. Your relationship with %s is %s (affinity %.0f, trust %.0f).\n",
			rel.other.Name, rel.other.Name, rel.edge.Type, rel.edge.Affinity, rel.edge.Trust)
		if rel.conflict {
			fmt.Fprintf(&b, "You are currently in conflict with %s; let that tension show, but stay civil.\n",
				rel.other.Name)
		}
	}

	if len(d.Memories) > 0 {
		b.WriteString("\nThings you remember about this user:\n")
		for _, m := range d.Memories {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}

	if len(p.MustDo) > 0 {
		b.WriteString("\nYou must:\n")
		for _, rule := range p.MustDo {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
	}
	if len(p.MustNotDo) > 0 {
		b.WriteString("You must never:\n")
		for _, rule := range p.MustNotDo {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
	}
	if len(p.ForbiddenWords) > 0 {
		fmt.Fprintf(&b, "Never use these words or phrases: %s.\n",
			strings.Join(p.ForbiddenWords, ", "))
	}
	if len(p.PreferredExpressions) > 0 {
		fmt.Fprintf(&b, "Expressions you naturally use: %s.\n",
			strings.Join(p.PreferredExpressions, ", "))
	}

	if len(p.FewShot) > 0 {
		b.WriteString("\nExample exchanges:\n")
		for _, ex := range p.FewShot {
			fmt.Fprintf(&b, "User: %s\n%s: %s\n", ex.User, p.Name, ex.Reply)
		}
	}

	return b.String()
}

// signalGuidance maps the numeric context signal onto prompt instructions.
// Small deltas produce no instruction so a near-neutral signal keeps the
// prompt short.
func signalGuidance(sig composer.Signal) []string {
	var out []string
	switch {
	case sig.ToneShift >= 0.3:
		out = append(out, "Use a noticeably brighter, more positive tone than usual.")
	case sig.ToneShift <= -0.3:
		out = append(out, "Use a more subdued, serious tone than usual.")
	}
	switch {
	case sig.FormalityDelta >= 0.3:
		out = append(out, "Speak a little more formally than usual.")
	case sig.FormalityDelta <= -0.3:
		out = append(out, "Speak more casually and relaxed than usual.")
	}
	switch {
	case sig.WarmthDelta >= 0.3:
		out = append(out, "Be openly warm and affectionate.")
	case sig.WarmthDelta <= -0.3:
		out = append(out, "Keep some emotional distance in your reply.")
	}
	if sig.SensitiveTopic {
		out = append(out, "The user touched a sensitive topic. Respond with care, do not lecture, and gently steer the conversation somewhere safer.")
	}
	return out
}
