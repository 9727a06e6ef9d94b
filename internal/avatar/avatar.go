// Package avatar resolves a display image for a user profile with a fixed
// fallback chain: explicit URL, then a gravatar lookup keyed on the email,
// then a generated initials placeholder.
package avatar

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const (
	gravatarBase = "https://www.gravatar.com/avatar"
	defaultSize  = 200
)

// Profile is the subset of a user record avatar resolution needs.
type Profile struct {
	AvatarURL string
	Email     string
	Name      string
}

// URL returns the avatar URL for a profile. An explicit AvatarURL always
// wins; without one the email's gravatar is used, and a missing email falls
// through to an initials placeholder.
func URL(p Profile) string {
	if u := strings.TrimSpace(p.AvatarURL); u != "" {
		return u
	}
	if email := strings.TrimSpace(p.Email); email != "" {
		return gravatarURL(email, defaultSize)
	}
	return placeholderURL(Initials(p.Name))
}

func gravatarURL(email string, size int) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("%s/%s?s=%d&d=identicon", gravatarBase, hex.EncodeToString(sum[:]), size)
}

func placeholderURL(initials string) string {
	if initials == "" {
		initials = "?"
	}
	return fmt.Sprintf("https://ui-avatars.com/api/?name=%s&size=%d", url.QueryEscape(initials), defaultSize)
}

// Initials returns up to two uppercase initials from a display name.
func Initials(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	first := []rune(fields[0])
	out := strings.ToUpper(string(first[0]))
	if len(fields) > 1 {
		last := []rune(fields[len(fields)-1])
		out += strings.ToUpper(string(last[0]))
	}
	return out
}
