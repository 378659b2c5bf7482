// Package sensitive classifies free text that customers should never send
// over chat (OTP codes, card numbers, passwords) and masks digit runs
// before anything is forwarded to a human operator.
package sensitive

import (
	"regexp"
	"strings"
)

// Kind is the category of sensitive content detected
type Kind string

const (
	KindCard     Kind = "CARD"
	KindOTP      Kind = "OTP"
	KindPassword Kind = "PASSWORD"
)

// Detection describes a positive classification
type Detection struct {
	Kind   Kind
	Reason string
}

var (
	otpKeywordRe  = regexp.MustCompile(`(?i)(otp|kode|code|verifikasi|verification|login|masuk)`)
	passwordRe    = regexp.MustCompile(`(?i)(password|pass|pin|pwd)\s*[:=]`)
	cardRunRe     = regexp.MustCompile(`(?:\d[ -]?){13,23}\d`)
	maskDigitsRe  = regexp.MustCompile(`\d{4,}`)
	nonDigitRunRe = regexp.MustCompile(`\D+`)
)

// Detect classifies text, checking CARD before OTP before PASSWORD so a
// Luhn-valid card number wins even when a 6-digit run or password keyword
// is also present. Returns nil for empty input or no match.
func Detect(text string) *Detection {
	if text == "" {
		return nil
	}
	if looksLikeCardNumber(text) {
		return &Detection{Kind: KindCard, Reason: "looks like a card number"}
	}
	if looksLikeOTP(text) {
		return &Detection{Kind: KindOTP, Reason: "looks like an OTP"}
	}
	if passwordRe.MatchString(text) {
		return &Detection{Kind: KindPassword, Reason: "looks like password/PIN"}
	}
	return nil
}

// Mask replaces every digit run of length >= 4 with asterisks, keeping the
// trailing two digits; runs of exactly 4 collapse to "****" entirely.
func Mask(text string) string {
	return maskDigitsRe.ReplaceAllStringFunc(text, func(m string) string {
		if len(m) <= 4 {
			return "****"
		}
		return strings.Repeat("*", len(m)-2) + m[len(m)-2:]
	})
}

// WarningText is the security warning sent to the user on any detection
func WarningText() string {
	return "Kak, demi keamanan jangan kirim OTP / password / nomor kartu ya 🙏\nKalau tadi terlanjur terkirim, sebaiknya diabaikan & jangan dipakai lagi."
}

// extractDigitRuns returns the standalone digit sequences in text, split
// on any non-digit characters.
func extractDigitRuns(text string) []string {
	parts := nonDigitRunRe.Split(text, -1)
	runs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			runs = append(runs, p)
		}
	}
	return runs
}

func looksLikeOTP(text string) bool {
	hasKeyword := otpKeywordRe.MatchString(text)
	var has6, has4to8 bool
	for _, run := range extractDigitRuns(text) {
		n := len(run)
		if n == 6 {
			has6 = true
		}
		if n >= 4 && n <= 8 {
			has4to8 = true
		}
	}
	// Typical OTP is 4-8 digits; a bare 6-digit run counts without keywords.
	return (hasKeyword && has4to8) || has6
}

func looksLikeCardNumber(text string) bool {
	for _, raw := range cardRunRe.FindAllString(text, -1) {
		digits := stripNonDigits(raw)
		if len(digits) >= 13 && len(digits) <= 19 && luhnCheck(digits) {
			return true
		}
	}
	return false
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnCheck validates a digits-only string with the Luhn mod-10 checksum
func luhnCheck(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
