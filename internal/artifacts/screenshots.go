package artifacts

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// screenshot-<tag>-<step>[-<k>].png|gif attaches to 1-based step <step>.
	screenshotPattern = regexp.MustCompile(`^screenshot-[^-]+-(\d+)(?:-\d+)?\.(png|gif)$`)
	legacyImage       = regexp.MustCompile(`^test\d+\.(png|ppm|gif)$`)
)

// ScreenshotStep returns the step index encoded in a screenshot file name.
func ScreenshotStep(name string) (int, bool) {
	m := screenshotPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Associate groups screenshot names by step index. Names within a step keep
// lexical order.
func Associate(names []string) map[int][]string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	out := make(map[int][]string)
	for _, name := range sorted {
		if n, ok := ScreenshotStep(name); ok {
			out[n] = append(out[n], name)
		}
	}
	return out
}

// JoinScreenshots renders a step's screenshots the way they are stored.
func JoinScreenshots(names []string) string {
	return strings.Join(names, ",")
}

// SplitScreenshots is the inverse of JoinScreenshots.
func SplitScreenshots(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isStagedImage reports whether a file in the screenshot staging dir belongs to a run.
func isStagedImage(name string) bool {
	return strings.HasPrefix(name, "screenshot-") || legacyImage.MatchString(name)
}
