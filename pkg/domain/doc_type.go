package domain

import dErrors "docflow/pkg/domain-errors"

// DocType labels a legal document family. At most one document per type is
// active at any time; the store enforces this with a partial unique index.
type DocType string

const (
	DocTypeTerms       DocType = "TERMS"
	DocTypePrivacy     DocType = "PRIVACY"
	DocTypeConsentForm DocType = "CONSENT"
)

var validDocTypes = map[DocType]bool{
	DocTypeTerms:       true,
	DocTypePrivacy:     true,
	DocTypeConsentForm: true,
}

// ParseDocType constructs a DocType from external input.
func ParseDocType(s string) (DocType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "document type cannot be empty")
	}
	t := DocType(s)
	if !validDocTypes[t] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid document type")
	}
	return t, nil
}

// IsValid checks the type against the closed set.
func (t DocType) IsValid() bool { return validDocTypes[t] }

func (t DocType) String() string { return string(t) }
