package validation

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insurecove/document-service/pkg/models"
)

func pdfBytes(extra string) []byte {
	return []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n" + extra + "\n%%EOF")
}

func TestCheckFile(t *testing.T) {
	t.Run("valid pdf", func(t *testing.T) {
		check, err := CheckFile("policy.pdf", "application/pdf", pdfBytes(""))
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", check.MIMEType)
		assert.Equal(t, "pdf", check.Extension)
		assert.Empty(t, check.Warnings)
	})

	t.Run("valid png", func(t *testing.T) {
		content := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 64)...)
		check, err := CheckFile("scan.png", "image/png", content)
		require.NoError(t, err)
		assert.Equal(t, "image/png", check.MIMEType)
	})

	t.Run("valid jpeg with mismatched declared type warns", func(t *testing.T) {
		content := append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 64)...)
		check, err := CheckFile("photo.jpg", "image/png", content)
		require.NoError(t, err)
		assert.Len(t, check.Warnings, 1, "expected mismatch warning")
	})

	t.Run("tiff accepts both byte orders", func(t *testing.T) {
		for _, sig := range []string{"II*\x00", "MM\x00*"} {
			content := append([]byte(sig), make([]byte, 32)...)
			_, err := CheckFile("scan.tiff", "", content)
			assert.NoError(t, err, "tiff signature %q rejected", sig)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := CheckFile("a.pdf", "", nil)
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := CheckFile("run.exe", "", []byte("MZ....."))
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})

	t.Run("signature mismatch", func(t *testing.T) {
		_, err := CheckFile("fake.pdf", "application/pdf", []byte("just plain text"))
		assert.ErrorIs(t, err, ErrSignatureMismatch)
	})

	t.Run("oversized file", func(t *testing.T) {
		big := append([]byte("%PDF-"), bytes.Repeat([]byte{'a'}, 50*1024*1024)...)
		_, err := CheckFile("big.pdf", "", big)
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("pdf with javascript is rejected", func(t *testing.T) {
		_, err := CheckFile("evil.pdf", "", pdfBytes("<< /S /JavaScript /JS (app.alert(1)) >>"))
		assert.ErrorIs(t, err, ErrThreatDetected)
	})

	t.Run("embedded script tag is rejected", func(t *testing.T) {
		_, err := CheckFile("evil.pdf", "", pdfBytes("<script>alert(1)</script>"))
		assert.ErrorIs(t, err, ErrThreatDetected)
	})

	t.Run("text file with sql injection is rejected", func(t *testing.T) {
		_, err := CheckFile("notes.txt", "", []byte("1' UNION SELECT password FROM users --"))
		assert.ErrorIs(t, err, ErrThreatDetected)
	})

	t.Run("clean text file passes", func(t *testing.T) {
		_, err := CheckFile("notes.txt", "text/plain", []byte("meeting summary for the renewal"))
		assert.NoError(t, err)
	})
}

func TestMaxSizeFor(t *testing.T) {
	cases := map[string]int64{
		"application/pdf": 50 * 1024 * 1024,
		"image/jpeg":      10 * 1024 * 1024,
		"image/png":       10 * 1024 * 1024,
		"image/tiff":      20 * 1024 * 1024,
		"text/plain":      5 * 1024 * 1024,
		"application/xyz": DefaultMaxSize,
	}
	for mime, want := range cases {
		assert.Equal(t, want, MaxSizeFor(mime), "MaxSizeFor(%s)", mime)
	}
}

func TestValidateFilename(t *testing.T) {
	valid := []string{
		"policy.pdf",
		"scan 2025.png",
		"claim_form-v2.tiff",
	}
	for _, name := range valid {
		assert.NoError(t, ValidateFilename(name), "expected %q valid", name)
	}

	invalid := []string{
		"",
		"../etc/passwd.txt",
		"dir/file.pdf",
		`dir\file.pdf`,
		"noextension",
		"CON.pdf",
		"lpt1.txt",
		"bad<name>.pdf",
		"question?.pdf",
		"null\x00byte.pdf",
		strings.Repeat("a", 300) + ".pdf",
	}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateFilename(name), ErrInvalidFilename, "expected %q invalid", name)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Run("strips client paths", func(t *testing.T) {
		got, err := SanitizeFilename(`C:\Users\alex\Documents\policy.pdf`)
		require.NoError(t, err)
		assert.Equal(t, "policy.pdf", got)
	})

	t.Run("trims whitespace", func(t *testing.T) {
		got, err := SanitizeFilename("  report.pdf  ")
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", got)
	})

	t.Run("rejects what remains invalid", func(t *testing.T) {
		_, err := SanitizeFilename("uploads/CON.pdf")
		assert.ErrorIs(t, err, ErrInvalidFilename)
	})
}

func TestScanText(t *testing.T) {
	cases := []struct {
		text   string
		threat string
	}{
		{"1' UNION SELECT * FROM users", "sql_injection"},
		{"DROP TABLE documents", "sql_injection"},
		{"<script>alert(1)</script>", "xss"},
		{"javascript:void(0)", "xss"},
		{"../../etc/passwd", "path_traversal"},
		{"%2e%2e%2fetc", "path_traversal"},
	}
	for _, tc := range cases {
		assert.Contains(t, ScanText(tc.text), tc.threat, "expected %q to trip %s", tc.text, tc.threat)
	}

	assert.Empty(t, ScanText("ordinary insurance claim text"), "expected clean scan")
}

func TestValidateMetadata(t *testing.T) {
	t.Run("small clean metadata passes", func(t *testing.T) {
		assert.NoError(t, ValidateMetadata(models.JSONMap{"policy_number": "P-1234", "year": 2025}))
	})

	t.Run("nil metadata passes", func(t *testing.T) {
		assert.NoError(t, ValidateMetadata(nil))
	})

	t.Run("oversized metadata is rejected", func(t *testing.T) {
		err := ValidateMetadata(models.JSONMap{"blob": strings.Repeat("x", 11*1024)})
		assert.ErrorIs(t, err, ErrMetadataTooLarge)
	})

	t.Run("suspicious metadata is rejected", func(t *testing.T) {
		err := ValidateMetadata(models.JSONMap{"note": "<script>steal()</script>"})
		assert.ErrorIs(t, err, ErrMetadataSuspicious)
	})
}
