package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks: decompose, drop the marks,
// recompose.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// asciiReplacer handles letters that do not decompose into base + mark.
var asciiReplacer = strings.NewReplacer(
	"ø", "o", "Ø", "O",
	"ß", "ss",
	"æ", "ae", "Æ", "Ae",
	"œ", "oe", "Œ", "Oe",
	"đ", "d", "Đ", "D",
	"ł", "l", "Ł", "L",
	"þ", "th", "Þ", "Th",
	"ð", "d", "Ð", "D",
)

// Fold produces the comparison form of a name: diacritics folded to base
// letters, special letters transliterated, lowercased, whitespace collapsed.
// Display names keep their original diacritics; folding applies only to sort
// keys.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	folded = asciiReplacer.Replace(folded)
	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// SurnameFirst converts a forward-ordered name to surname-first listing
// order: the last token is the surname, everything before it (particles
// included) becomes the forename tail, so "Ludwig van Beethoven" lines up
// with a listing reading "Beethoven, Ludwig van". Names already containing a
// comma are assumed to be surname-first and returned unchanged.
func SurnameFirst(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ",") {
		return name
	}
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return name
	}
	surname := fields[len(fields)-1]
	forename := strings.Join(fields[:len(fields)-1], " ")
	return surname + ", " + forename
}

// ForwardName converts a surname-first listing ("Bristow, George Frederick")
// to forward order ("George Frederick Bristow"). Entries without a comma are
// returned unchanged; a third comma-separated piece (disambiguation) is kept
// after the name.
func ForwardName(name string) string {
	pieces := strings.SplitN(name, ", ", 3)
	switch len(pieces) {
	case 2:
		return pieces[1] + " " + pieces[0]
	case 3:
		return pieces[1] + " " + pieces[0] + ", " + pieces[2]
	default:
		return name
	}
}
