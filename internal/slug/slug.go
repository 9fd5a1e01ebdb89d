// Package slug builds the URL fragments used for book page paths.
package slug

import "strings"

// Slugify lowercases ASCII letters and replaces spaces with hyphens. Other
// letters are left as they are, so the result does not depend on locale.
func Slugify(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '-'
		case 'A' <= r && r <= 'Z':
			return r + ('a' - 'A')
		}
		return r
	}, text)
}

// ChildPageSlug builds the path fragment for a page inside a chapter or appendix.
//
//	ChildPageSlug("Intro", "Chapter-1")  == "ch1-intro"
//	ChildPageSlug("Intro", "Appendix-B") == "appx-b-intro"
//	ChildPageSlug("Intro", "Part 2")     == "part-2-intro"
//
// An empty subtitle still joins with a hyphen: ChildPageSlug("Intro", "") == "-intro".
func ChildPageSlug(title, subtitle string) string {
	t := Slugify(title)
	sub := Slugify(subtitle)

	switch {
	case strings.Contains(sub, "chapter"):
		return prefix(sub, 2) + lastSegment(sub) + "-" + t
	case strings.Contains(sub, "appendix"):
		return prefix(sub, 3) + "x-" + lastSegment(sub) + "-" + t
	default:
		return sub + "-" + t
	}
}

// VolumePageSlug builds "vol<N>" from a subtitle such as "Volume-2".
func VolumePageSlug(subtitle string) string {
	return "vol" + lastSegment(Slugify(subtitle))
}

func lastSegment(s string) string {
	if i := strings.LastIndex(s, "-"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) < n {
		return s
	}
	return string(r[:n])
}
