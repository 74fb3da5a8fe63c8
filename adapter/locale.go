package adapter

import "strings"

// Persian and Arabic-Indic digits both appear on Iranian travel sites,
// sometimes mixed within one field.
var digitPairs = map[rune]rune{
	'۰': '0', '۱': '1', '۲': '2', '۳': '3', '۴': '4',
	'۵': '5', '۶': '6', '۷': '7', '۸': '8', '۹': '9',
	'٠': '0', '١': '1', '٢': '2', '٣': '3', '٤': '4',
	'٥': '5', '٦': '6', '٧': '7', '٨': '8', '٩': '9',
}

var englishToPersianDigits = map[rune]rune{
	'0': '۰', '1': '۱', '2': '۲', '3': '۳', '4': '۴',
	'5': '۵', '6': '۶', '7': '۷', '8': '۸', '9': '۹',
}

// ToEnglishDigits converts Persian and Arabic-Indic digits to ASCII.
func ToEnglishDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if en, ok := digitPairs[r]; ok {
			return en
		}
		return r
	}, s)
}

// ToPersianDigits converts ASCII digits to Persian digits, used when filling
// forms on sites that reject ASCII input.
func ToPersianDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if fa, ok := englishToPersianDigits[r]; ok {
			return fa
		}
		return r
	}, s)
}

// ContainsPersian reports whether the string carries Arabic-script glyphs.
func ContainsPersian(s string) bool {
	for _, r := range s {
		if r >= 0x0600 && r <= 0x06FF {
			return true
		}
	}
	return false
}

// AirlineNames maps Persian airline names to their English names. Sites
// write the same carrier with slight spacing variations; lookups go through
// LookupAirline which trims and collapses whitespace first.
var AirlineNames = map[string]string{
	"ایران ایر":    "Iran Air",
	"ماهان":        "Mahan Air",
	"هواپیمایی ماهان": "Mahan Air",
	"آسمان":        "Aseman Airlines",
	"کاسپین":       "Caspian Airlines",
	"قشم ایر":      "Qeshm Air",
	"زاگرس":        "Zagros Airlines",
	"تابان":        "Taban Air",
	"وارش":         "Varesh Airlines",
	"کیش ایر":      "Kish Air",
	"سپهران":       "Sepehran Airlines",
	"آتا":          "ATA Airlines",
	"معراج":        "Meraj Airlines",
	"کارون":        "Karun Airlines",
	"پویا ایر":     "Pouya Air",
	"فلای پرشیا":   "Fly Persia",
}

// LookupAirline resolves a Persian airline name to English. The input is
// returned unchanged when no mapping exists.
func LookupAirline(name string) (string, bool) {
	cleaned := strings.Join(strings.Fields(name), " ")
	if english, ok := AirlineNames[cleaned]; ok {
		return english, true
	}
	return name, false
}
