// Package phone normalizes phone numbers before they are stored or sent to an
// SMS gateway.
package phone

import "strings"

var stripper = strings.NewReplacer("-", "", "(", "", ")", "")

// Normalize joins a country code and a local number and strips dashes and
// parentheses.
func Normalize(countryCode, number string) string {
	return stripper.Replace(strings.TrimSpace(countryCode) + strings.TrimSpace(number))
}
