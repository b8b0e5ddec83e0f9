package ingest

import (
	"mime"
	"strings"
	"unicode"

	"casedocs/internal/models"
)

// AllowedMIMETypes lists the upload types accepted for legal documents.
var AllowedMIMETypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// NormalizeMIME lowercases the type and strips parameters.
func NormalizeMIME(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mt
	}
	return strings.ToLower(mimeType)
}

var vocabulary = []struct {
	docType  models.DocType
	keywords []string
}{
	{models.DocTypeContract, []string{"契約", "contract", "agreement"}},
	{models.DocTypeEvidence, []string{"証拠", "evidence", "exhibit"}},
	{models.DocTypeClaim, []string{"訴状", "claim", "complaint"}},
	{models.DocTypeCorrespondence, []string{"メール", "書簡", "mail", "letter", "correspondence"}},
}

// Classify tags a document from its MIME type and file name. Images are always image.
func Classify(fileName, mimeType string) models.DocType {
	if strings.HasPrefix(NormalizeMIME(mimeType), "image/") {
		return models.DocTypeImage
	}
	name := strings.ToLower(fileName)
	for _, v := range vocabulary {
		for _, kw := range v.keywords {
			if strings.Contains(name, kw) {
				return v.docType
			}
		}
	}
	return models.DocTypeOther
}

const maxStoredNameLen = 200

// SanitizeFileName maps a client file name onto the storage-safe alphabet [A-Za-z0-9._-].
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	inSpace := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		case r < 0x80 && (r == '.' || r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		inSpace = false
	}
	out := b.String()
	if len(out) > maxStoredNameLen {
		out = out[len(out)-maxStoredNameLen:]
	}
	if strings.Trim(out, ".") == "" {
		return "file"
	}
	return out
}
