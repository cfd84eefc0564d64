// Package txt rewrites recognizer output into written form.
package txt

import (
	"strconv"
	"strings"
)

var numbers = map[string]int64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16,
	"seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var punctuation = strings.NewReplacer(",", "", ".", "")

var multipliers = map[string]int64{
	"hundred":  100,
	"thousand": 1_000,
	"million":  1_000_000,
	"billion":  1_000_000_000,
}

// NormalizeNumbers replaces runs of spoken number words with digits, so
// "one hundred twenty three apples" becomes "123 apples". Commas and
// periods are ignored when deciding whether a word is a number, and the
// result is joined with single spaces.
func NormalizeNumbers(text string) string {
	if text == "" {
		return text
	}

	var out, run []string
	flush := func() {
		if len(run) > 0 {
			out = append(out, strconv.FormatInt(parsePhrase(run), 10))
			run = run[:0]
		}
	}

	for _, word := range strings.Fields(text) {
		clean := strings.ToLower(punctuation.Replace(word))
		if isNumberWord(clean) {
			run = append(run, clean)
			continue
		}
		flush()
		out = append(out, word)
	}
	flush()

	return strings.Join(out, " ")
}

func isNumberWord(w string) bool {
	if _, ok := numbers[w]; ok {
		return true
	}
	_, ok := multipliers[w]
	return ok
}

func parsePhrase(words []string) int64 {
	var total, chunk int64
	for _, w := range words {
		if n, ok := numbers[w]; ok {
			chunk += n
			continue
		}
		mult := multipliers[w]
		if chunk == 0 {
			chunk = 1
		}
		if mult == 100 {
			chunk *= mult
		} else {
			total += chunk * mult
			chunk = 0
		}
	}
	return total + chunk
}
