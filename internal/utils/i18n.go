package utils

// Fixed UI strings shared by the server and the respondent CLI. Question
// prompts and comments carry their own translations.
var translations = map[string]map[string]string{
	LangEnglish: {
		"health.ok":                   "ok",
		"page.landing":                "Welcome",
		"page.quantitative-questions": "Rate each statement from 0 to 9",
		"page.rate-comments":          "What do you think of what others said?",
		"page.qualitative-questions":  "Tell us more",
		"page.personal-information":   "About you",
		"page.submit":                 "Review and submit",
		"page.peer-responses":         "How others answered",
		"page.end":                    "Thank you!",
		"rating.skipped":              "skipped",
		"rating.unanswered":           "not yet answered",
		"sync.offline":                "Saved on this device. It will be sent when you are back online.",
		"sync.synced":                 "Saved and sent.",
		"submit.done":                 "Your response has been submitted.",
		"resource.unavailable":        "This list could not be loaded right now.",
	},
	LangTagalog: {
		"health.ok":                   "ayos",
		"page.landing":                "Maligayang pagdating",
		"page.quantitative-questions": "I-rate ang bawat pahayag mula 0 hanggang 9",
		"page.rate-comments":          "Ano ang palagay mo sa sinabi ng iba?",
		"page.qualitative-questions":  "Magkuwento pa",
		"page.personal-information":   "Tungkol sa iyo",
		"page.submit":                 "Suriin at ipasa",
		"page.peer-responses":         "Paano sumagot ang iba",
		"page.end":                    "Salamat!",
		"rating.skipped":              "nilaktawan",
		"rating.unanswered":           "wala pang sagot",
		"sync.offline":                "Naka-save sa device na ito. Ipapadala ito kapag online ka na.",
		"sync.synced":                 "Naka-save at naipadala na.",
		"submit.done":                 "Naipasa na ang iyong sagot.",
		"resource.unavailable":        "Hindi ma-load ang listahang ito ngayon.",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := translations[LangEnglish][key]; ok {
		return v
	}
	return key
}
