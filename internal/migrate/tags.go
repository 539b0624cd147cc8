package migrate

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

var adjectives = []string{
	"able", "amber", "ancient", "bitter", "bold", "brave", "bright", "brisk", "calm", "clever",
	"cool", "crisp", "curly", "daily", "dark", "deep", "dizzy", "eager", "early", "empty",
	"fancy", "fast", "fluffy", "fresh", "gentle", "giant", "glad", "golden", "grand", "green",
	"happy", "hidden", "humble", "icy", "jolly", "keen", "kind", "lazy", "little", "lively",
	"lucky", "magic", "mellow", "misty", "modern", "narrow", "neat", "noble", "odd", "orange",
	"plain", "polite", "proud", "quick", "quiet", "rapid", "rare", "royal", "rusty", "salty",
	"sharp", "shiny", "silent", "silver", "simple", "sleepy", "smooth", "solid", "steady", "sticky",
	"strong", "sunny", "swift", "tall", "tender", "tidy", "tiny", "tough", "vast", "warm",
	"wild", "wise", "witty", "young", "zesty",
}

var nouns = []string{
	"acorn", "anchor", "badger", "beacon", "birch", "bison", "breeze", "brook", "cactus", "canyon",
	"cedar", "cloud", "comet", "coral", "cricket", "dune", "eagle", "ember", "falcon", "fern",
	"fjord", "flame", "fox", "glacier", "harbor", "hawk", "heron", "hollow", "island", "jaguar",
	"juniper", "kestrel", "lagoon", "lantern", "lark", "lynx", "maple", "meadow", "meteor", "moose",
	"nebula", "oak", "orbit", "otter", "owl", "panda", "pebble", "pine", "prism", "quail",
	"quartz", "raven", "reef", "river", "robin", "sparrow", "spruce", "summit", "thistle", "thunder",
	"tide", "tundra", "valley", "vapor", "walrus", "willow", "wolf", "wren", "yak", "zephyr",
}

// TagSource picks the words of generated migration tags.
type TagSource interface {
	Words() (adjective, noun string)
}

// RandomWords draws tag words from the built-in lists.
type RandomWords struct{}

func (RandomWords) Words() (string, string) {
	return adjectives[rand.Intn(len(adjectives))], nouns[rand.Intn(len(nouns))]
}

var unsafeTagCharacters = regexp.MustCompile(`[^a-z0-9]+`)

// Tag builds the tag of migration idx: %04d_<name> for a caller supplied name, otherwise
// %04d_<adjective>_<noun>.
func Tag(idx int, name string, source TagSource) string {
	if cleaned := sanitizeName(name); cleaned != "" {
		return fmt.Sprintf("%04d_%s", idx, cleaned)
	}
	if source == nil {
		source = RandomWords{}
	}
	adjective, noun := source.Words()
	return fmt.Sprintf("%04d_%s_%s", idx, adjective, noun)
}

// tagPrefix reads the leading number of a tag such as 0003_brave_otter.
func tagPrefix(tag string) (int, bool) {
	digits, _, _ := strings.Cut(tag, "_")
	number, err := strconv.Atoi(digits)
	if err != nil || number < 0 {
		return 0, false
	}
	return number, true
}

func sanitizeName(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	return strings.Trim(unsafeTagCharacters.ReplaceAllString(lowered, "_"), "_")
}
