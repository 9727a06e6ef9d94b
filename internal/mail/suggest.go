// Package mail suggests corrections for mistyped email domains so an offer
// never goes out to a creator address like "name@gamil.com".
package mail

import "strings"

var knownDomains = []string{
	"gmail.com",
	"yahoo.com",
	"outlook.com",
	"hotmail.com",
	"icloud.com",
	"aol.com",
	"protonmail.com",
}

// maxDistance is the edit-distance cutoff for proposing a correction. Two
// keeps "gamil.com" -> "gmail.com" while leaving genuinely distinct domains
// alone.
const maxDistance = 2

// Suggest returns a corrected address for a likely domain typo, or "" when
// the address is empty, malformed, or already uses a known domain.
func Suggest(address string) string {
	address = strings.TrimSpace(address)
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	local, domain := address[:at], strings.ToLower(address[at+1:])
	for _, known := range knownDomains {
		if domain == known {
			return ""
		}
	}
	best := ""
	bestDist := maxDistance + 1
	for _, known := range knownDomains {
		if d := levenshtein(domain, known); d < bestDist {
			best = known
			bestDist = d
		}
	}
	if best == "" {
		return ""
	}
	return local + "@" + best
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
