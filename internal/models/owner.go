package models

import "strings"

// CanonicalSubjectID resolves a stored owner field to a plain subject id.
// Identity-provider owner-field conventions may decorate the value as
// "<subjectId>::<claim>"; only the first segment identifies the user. Every
// read of an owner column goes through this function.
func CanonicalSubjectID(owner string) string {
	if owner == "" {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(owner, "::", 2)[0])
}
