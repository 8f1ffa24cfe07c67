package chunk

import (
	"regexp"
	"strings"
)

var (
	nineDigitRe      = regexp.MustCompile(`\b\d{9}\b`)
	labeledAccountRe = regexp.MustCompile(`(?i)(account\s*(?:#|number|no\.?)\s*[:\s]?\s*)([a-z0-9\-]*\d[a-z0-9\-]*(?: \d[\d\-]*)*)`)

	dateLikeRe  = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}`)
	zipLikeRe   = regexp.MustCompile(`^\d{5}(?:-\d{4})?$`)
	phoneLikeRe = regexp.MustCompile(`^\d{3}-\d{3}-\d{4}`)
)

// Highlight wraps account-like numbers in <b> tags so the model can tell
// sub-account numbers apart from addresses and amounts. Dates, ZIP codes
// and phone numbers after an account label are left alone.
func Highlight(text string) string {
	var b strings.Builder
	last := 0
	for _, m := range labeledAccountRe.FindAllStringSubmatchIndex(text, -1) {
		value, rest := text[m[4]:m[5]], text[m[4]:]
		if dateLikeRe.MatchString(rest) || phoneLikeRe.MatchString(rest) || zipLikeRe.MatchString(value) {
			continue
		}
		b.WriteString(boldNineDigit(text[last:m[4]]))
		b.WriteString("<b>")
		b.WriteString(value)
		b.WriteString("</b>")
		last = m[5]
	}
	b.WriteString(boldNineDigit(text[last:]))
	return b.String()
}

func boldNineDigit(s string) string {
	return nineDigitRe.ReplaceAllString(s, "<b>$0</b>")
}

// FirstNineDigit returns the first standalone 9-digit number in text, or "".
func FirstNineDigit(text string) string {
	return nineDigitRe.FindString(text)
}
