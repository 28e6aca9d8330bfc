package invitation

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayName derives a readable name from the local part of an address:
// "ada.love_lace-x@example.com" becomes "Ada Love Lace X".
func DisplayName(email string) string {
	local := email
	if at := strings.LastIndex(local, "@"); at >= 0 {
		local = local[:at]
	}
	segments := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(segments) == 0 {
		return email
	}
	caser := cases.Title(language.Und)
	for i, segment := range segments {
		segments[i] = caser.String(segment)
	}
	return strings.Join(segments, " ")
}
