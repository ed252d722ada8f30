package agent

import "strings"

// FormField is one submitted form input as observed at submit time.
type FormField struct {
	Name        string
	ID          string
	Placeholder string
	Type        string
	Value       string
}

// ContactInfo is the best-effort contact extraction from a form submission.
type ContactInfo struct {
	Email string
	Name  string
	Phone string
}

// Ordered pattern lists scanned against field name/id/placeholder. This is an
// explicitly heuristic matcher, not a parser: it catches the common naming
// conventions (email, work_email, your-name, tel, ...) and nothing more.
var (
	emailFieldPatterns = []string{"email", "e-mail", "mail"}
	nameFieldPatterns  = []string{"full_name", "fullname", "full-name", "name"}
	phoneFieldPatterns = []string{"phone", "tel", "mobile", "cell"}
)

// ExtractContactInfo scans submitted fields for email, name and phone values.
// First matching field wins per attribute.
func ExtractContactInfo(fields []FormField) ContactInfo {
	var info ContactInfo
	for _, f := range fields {
		value := strings.TrimSpace(f.Value)
		if value == "" {
			continue
		}
		if info.Email == "" && isEmailField(f) && strings.Contains(value, "@") {
			info.Email = strings.ToLower(value)
			continue
		}
		if info.Name == "" && matchesField(f, nameFieldPatterns) {
			info.Name = value
			continue
		}
		if info.Phone == "" && isPhoneField(f) {
			info.Phone = value
		}
	}
	return info
}

func isEmailField(f FormField) bool {
	if strings.EqualFold(f.Type, "email") {
		return true
	}
	return matchesField(f, emailFieldPatterns)
}

func isPhoneField(f FormField) bool {
	if strings.EqualFold(f.Type, "tel") {
		return true
	}
	return matchesField(f, phoneFieldPatterns)
}

func matchesField(f FormField, patterns []string) bool {
	haystacks := []string{
		strings.ToLower(f.Name),
		strings.ToLower(f.ID),
		strings.ToLower(f.Placeholder),
	}
	for _, p := range patterns {
		for _, h := range haystacks {
			if h != "" && strings.Contains(h, p) {
				return true
			}
		}
	}
	return false
}
