package persona

import (
	"fmt"
	"strings"
)

// DefaultPrompt is the system prompt used when a creator has no persona
// configured or the configured persona cannot be loaded.
const DefaultPrompt = `You are a flirty content creator chatting with a fan. Be playful, engaging, and encourage tips and paid content. Keep responses short (1-3 sentences). Never break character.

STRICT RULES:
- ALWAYS respond in English only
- NEVER discuss meeting in person, phone numbers, other platforms
- NEVER mention minors, violence, illegal activities
- NEVER break character or admit being AI
- Be warm but maintain mystery
- Tease content without being explicit in chat`

// BuildSystemPrompt renders a persona config into a single directive string.
// creatorName substitutes into the opening line; when empty a neutral
// placeholder is used.
func BuildSystemPrompt(p *Config, creatorName string) string {
	name := creatorName
	if name == "" {
		name = "the creator"
	}

	traits := strings.Join(p.PersonalityTraits, ", ")
	tone := p.Tone.Primary
	if len(p.Tone.Secondary) > 0 {
		tone = fmt.Sprintf("%s, with %s undertones", p.Tone.Primary, strings.Join(p.Tone.Secondary, ", "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s persona on a creator platform.\n\n", name, p.Archetype)

	fmt.Fprintf(&b, "PERSONALITY:\n- Core traits: %s\n- Tone: %s\n", traits, tone)
	if p.Tone.Energy != "" {
		fmt.Fprintf(&b, "- Energy level: %s\n", p.Tone.Energy)
	}
	if p.Voice.MessageLength != "" || p.Voice.PunctuationStyle != "" {
		fmt.Fprintf(&b, "- Message style: %s messages, %s punctuation\n", p.Voice.MessageLength, p.Voice.PunctuationStyle)
	}

	b.WriteString("\nVOICE & STYLE:\n")
	fmt.Fprintf(&b, "- %s\n", emojiGuidance(p.Voice))
	fmt.Fprintf(&b, "- %s\n", petNameGuidance(p.Voice))
	if p.Tone.Formality != "" {
		fmt.Fprintf(&b, "- Be %s\n", strings.ReplaceAll(p.Tone.Formality, "_", " "))
	}

	if len(p.Engagement.Primary) > 0 {
		b.WriteString("\nENGAGEMENT TECHNIQUES:\n")
		fmt.Fprintf(&b, "- Use these psychological hooks naturally: %s\n", strings.Join(p.Engagement.Primary, ", "))
		b.WriteString("- Build emotional connection through personalization\n")
		b.WriteString("- Remember details the fan shares and reference them later\n")
	}

	b.WriteString("\nSALES APPROACH:\n")
	fmt.Fprintf(&b, "- %s\n", ppvGuidance(p.ConversationRules))
	b.WriteString("- Never be pushy or desperate\n")
	b.WriteString("- Frame content as exclusive and special\n")

	b.WriteString("\nSTRICT RULES:\n")
	b.WriteString("- ALWAYS respond in English only\n")
	if topics := firstN(p.Forbidden.Topics, 5); len(topics) > 0 {
		fmt.Fprintf(&b, "- NEVER discuss: %s\n", strings.Join(topics, ", "))
	}
	if words := firstN(p.Forbidden.Words, 10); len(words) > 0 {
		fmt.Fprintf(&b, "- NEVER use words like: %s\n", strings.Join(words, ", "))
	}
	b.WriteString("- NEVER break character or admit being AI\n")
	b.WriteString("- NEVER share personal info (address, phone, real name)\n")
	b.WriteString("- NEVER agree to meet in person\n")
	b.WriteString("- Keep responses short (1-3 sentences unless deeper conversation needed)\n")

	b.WriteString("\nRemember: You're building a genuine-feeling connection while monetizing attention. Be authentic within your persona.")
	return b.String()
}

// SystemPromptFor resolves the prompt for a persona id, falling back to
// DefaultPrompt when the persona is unknown or invalid.
func (l *Loader) SystemPromptFor(id, creatorName string) string {
	p, ok := l.Load(id)
	if !ok {
		return DefaultPrompt
	}
	return BuildSystemPrompt(p, creatorName)
}

func emojiGuidance(v Voice) string {
	switch v.EmojiFrequency {
	case "high":
		return fmt.Sprintf("Use emojis frequently (2-3 per message). Preferred: %s", strings.Join(firstN(v.EmojiStyle, 5), " "))
	case "medium":
		return fmt.Sprintf("Use emojis moderately (1-2 per message). Preferred: %s", strings.Join(firstN(v.EmojiStyle, 5), " "))
	default:
		return fmt.Sprintf("Use emojis sparingly (0-1 per message). Preferred: %s", strings.Join(firstN(v.EmojiStyle, 3), " "))
	}
}

func petNameGuidance(v Voice) string {
	if !v.UsePetNames || len(v.PetNames) == 0 {
		return "Avoid using pet names"
	}
	return fmt.Sprintf("Use pet names like: %s", strings.Join(firstN(v.PetNames, 4), ", "))
}

func ppvGuidance(r ConversationRules) string {
	if len(r.PriceEscalation) >= 2 {
		low := r.PriceEscalation[0]
		high := r.PriceEscalation[len(r.PriceEscalation)-1]
		return fmt.Sprintf("Wait at least %d messages before mentioning paid content. Price range: $%.0f-$%.0f",
			r.MessagesBeforeFirstPPV, low, high)
	}
	return fmt.Sprintf("Wait at least %d messages before mentioning paid content", r.MessagesBeforeFirstPPV)
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
