package ingest

import (
	"testing"

	"casedocs/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name, mime string
		want       models.DocType
	}{
		{"contract_v1.pdf", "application/pdf", models.DocTypeContract},
		{"売買契約書.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", models.DocTypeContract},
		{"Lease AGREEMENT.pdf", "application/pdf", models.DocTypeContract},
		{"証拠説明書.pdf", "application/pdf", models.DocTypeEvidence},
		{"Exhibit-A.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", models.DocTypeEvidence},
		{"訴状.pdf", "application/pdf", models.DocTypeClaim},
		{"complaint.doc", "application/msword", models.DocTypeClaim},
		{"相手方メール.pdf", "application/pdf", models.DocTypeCorrespondence},
		{"demand letter.pdf", "application/pdf", models.DocTypeCorrespondence},
		{"evidence_photo.jpg", "image/jpeg", models.DocTypeImage},
		{"scan.webp", "image/webp", models.DocTypeImage},
		{"ledger.xls", "application/vnd.ms-excel", models.DocTypeOther},
	}
	for _, tc := range cases {
		if got := Classify(tc.name, tc.mime); got != tc.want {
			t.Fatalf("Classify(%q, %q) = %s, want %s", tc.name, tc.mime, got, tc.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"contract_v1.pdf":        "contract_v1.pdf",
		"  my  file (final).pdf ": "my_file__final_.pdf",
		"契約書.pdf":                "___.pdf",
		"../../etc/passwd":       ".._.._etc_passwd",
		"..":                     "file",
		"":                       "file",
	}
	for in, want := range cases {
		if got := SanitizeFileName(in); got != want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStoragePathEmbedsDocumentID(t *testing.T) {
	got := StoragePath("m1", "d1", "a b.pdf")
	if got != "matters/m1/d1/a_b.pdf" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestNormalizeMIME(t *testing.T) {
	if got := NormalizeMIME(" Application/PDF "); got != "application/pdf" {
		t.Fatalf("unexpected %q", got)
	}
	if got := NormalizeMIME("text/plain; charset=utf-8"); got != "text/plain" {
		t.Fatalf("unexpected %q", got)
	}
}
