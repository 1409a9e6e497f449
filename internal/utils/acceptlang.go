package utils

import (
	"sort"
	"strconv"
	"strings"
)

// Supported UI languages.
const (
	LangEnglish = "en"
	LangTagalog = "tl"
)

// Languages lists the supported language codes in display order.
var Languages = []string{LangEnglish, LangTagalog}

// aliases maps other tags browsers send for Filipino/Tagalog.
var aliases = map[string]string{
	"fil": LangTagalog,
	"tgl": LangTagalog,
	"eng": LangEnglish,
}

// SupportedLanguage reports whether code is one of Languages.
func SupportedLanguage(code string) bool {
	for _, l := range Languages {
		if l == code {
			return true
		}
	}
	return false
}

// DetermineLocale resolves a locale from an explicit choice, then the
// Accept-Language header (highest q first), then def. Region subtags are
// dropped ("en-PH" -> "en") and Filipino tags map to "tl".
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	sup := map[string]struct{}{}
	for _, s := range supported {
		sup[strings.ToLower(s)] = struct{}{}
	}

	pick := func(lang string) (string, bool) {
		l := strings.ToLower(strings.TrimSpace(lang))
		if l == "" {
			return "", false
		}
		if i := strings.IndexAny(l, "-_"); i > 0 {
			if _, ok := sup[l]; !ok {
				l = l[:i]
			}
		}
		if a, ok := aliases[l]; ok {
			l = a
		}
		if _, ok := sup[l]; ok {
			return l, true
		}
		return "", false
	}

	if v, ok := pick(queryLang); ok {
		return v
	}

	type cand struct {
		lang string
		q    float64
	}
	var cands []cand
	for _, part := range strings.Split(acceptLang, ",") {
		lang, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		q := 1.0
		if k, v, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(k) == "q" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			q = f
		}
		if q <= 0 {
			continue
		}
		if l, ok := pick(lang); ok {
			cands = append(cands, cand{lang: l, q: q})
		}
	}
	if len(cands) > 0 {
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].q > cands[j].q })
		return cands[0].lang
	}
	if v, ok := pick(def); ok {
		return v
	}
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return LangEnglish
}
