// Package i18n negotiates client locales for connection metadata.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// BaseLocale is used when a client sends no usable preference.
const BaseLocale = "en-US"

var supported = []language.Tag{
	language.AmericanEnglish,
	language.BrazilianPortuguese,
	language.EuropeanSpanish,
	language.French,
	language.German,
	language.Japanese,
	language.SimplifiedChinese,
}

var matcher = language.NewMatcher(supported)

// Negotiate resolves an Accept-Language header, or an explicit locale
// override when set, to a supported BCP 47 tag.
func Negotiate(override, acceptLanguage string) string {
	if value := strings.TrimSpace(override); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return match(tag)
		}
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return BaseLocale
	}
	return match(tags...)
}

func match(tags ...language.Tag) string {
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return BaseLocale
	}
	return supported[index].String()
}
