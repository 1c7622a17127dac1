package globalchat

import (
	_ "embed"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/forPelevin/gomoji"
)

//go:embed profanity.json
var profanityJSON []byte

var profanity []string

func init() {
	if err := json.Unmarshal(profanityJSON, &profanity); err != nil {
		panic("globalchat: bad profanity list: " + err.Error())
	}
}

// Characters that mark a message as a bot command for some other bot.
// Those never enter the shared channel and are not worth a notice.
const commandPrefixes = `$!%^&*->/\`

var (
	linkPattern        = regexp.MustCompile(`(?i)(https?://|www\.|discord\.gg/)`)
	customEmojiPattern = regexp.MustCompile(`<a?:\w{2,32}:\d{17,22}>`)
)

func isCommand(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	return strings.ContainsRune(commandPrefixes, rune(trimmed[0]))
}

func hasLink(content string) bool {
	return linkPattern.MatchString(content)
}

func lineCount(content string) int {
	return strings.Count(content, "\n") + 1
}

func hasProfanity(content string) bool {
	lower := strings.ToLower(content)
	for _, word := range profanity {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// emojiCount counts occurrences, not distinct emoji. FindAll reports
// each emoji once no matter how often it repeats, so every hit is
// re-counted against the content.
func emojiCount(content string) int {
	n := len(customEmojiPattern.FindAllString(content, -1))
	for _, e := range gomoji.FindAll(content) {
		n += strings.Count(content, e.Character)
	}
	return n
}
