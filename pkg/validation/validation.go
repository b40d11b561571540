// Package validation performs content inspection on uploaded files before
// they reach storage: signature-based type detection, per-type size limits,
// filename safety, threat pattern scanning, and metadata caps.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/insurecove/document-service/pkg/models"
)

// Validation failure sentinels. Handlers map these to 400/413 responses.
var (
	ErrEmptyFile          = errors.New("file is empty")
	ErrUnsupportedType    = errors.New("file type not allowed")
	ErrSignatureMismatch  = errors.New("file content does not match its extension")
	ErrFileTooLarge       = errors.New("file exceeds the size limit for its type")
	ErrInvalidFilename    = errors.New("invalid filename")
	ErrThreatDetected     = errors.New("security threat detected in content")
	ErrMetadataTooLarge   = errors.New("metadata exceeds the size limit")
	ErrMetadataSuspicious = errors.New("metadata contains suspicious content")
)

// Size limits by MIME type. Types absent from the table use DefaultMaxSize.
const (
	DefaultMaxSize  = 25 * 1024 * 1024
	MaxMetadataSize = 10 * 1024
	MaxFilenameLen  = 255

	// threatScanWindow bounds how much of the file body is scanned for
	// injected script or query fragments. Binary formats routinely contain
	// arbitrary bytes past their header, so only the head is inspected.
	threatScanWindow = 2048
)

var maxSizeByMIME = map[string]int64{
	"application/pdf": 50 * 1024 * 1024,
	"image/jpeg":      10 * 1024 * 1024,
	"image/png":       10 * 1024 * 1024,
	"image/tiff":      20 * 1024 * 1024,
	"text/plain":      5 * 1024 * 1024,
}

// fileType couples an extension with its MIME type and magic prefixes.
type fileType struct {
	ext        string
	mime       string
	signatures [][]byte
}

var fileTypes = []fileType{
	{ext: "pdf", mime: "application/pdf", signatures: [][]byte{[]byte("%PDF")}},
	{ext: "jpg", mime: "image/jpeg", signatures: [][]byte{{0xff, 0xd8, 0xff}}},
	{ext: "jpeg", mime: "image/jpeg", signatures: [][]byte{{0xff, 0xd8, 0xff}}},
	{ext: "png", mime: "image/png", signatures: [][]byte{{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}}},
	{ext: "tif", mime: "image/tiff", signatures: [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}},
	{ext: "tiff", mime: "image/tiff", signatures: [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}},
	{ext: "txt", mime: "text/plain"},
}

// FileCheck is the outcome of content validation for a single upload.
type FileCheck struct {
	// Extension is the canonical lowercase extension, without the dot.
	Extension string

	// MIMEType is the type detected from content, falling back to the
	// extension mapping for formats without a signature.
	MIMEType string

	// Warnings are non-fatal observations, such as a declared MIME type
	// that disagrees with the detected one.
	Warnings []string
}

// CheckFile validates an upload's content against its filename and declared
// MIME type. It returns the detected type on success, or one of the
// validation sentinels.
func CheckFile(filename, declaredMIME string, content []byte) (*FileCheck, error) {
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}

	ext := extensionOf(filename)
	ft, ok := typeForExtension(ext)
	if !ok {
		return nil, fmt.Errorf("%w: .%s", ErrUnsupportedType, ext)
	}

	// Content must carry the magic bytes of its claimed format. Plain text
	// has no signature, so only the threat scan applies.
	if len(ft.signatures) > 0 && !matchesSignature(content, ft.signatures) {
		return nil, fmt.Errorf("%w: no %s signature", ErrSignatureMismatch, ft.ext)
	}

	if int64(len(content)) > MaxSizeFor(ft.mime) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(content), MaxSizeFor(ft.mime))
	}

	if issues := scanContent(content, ft.mime); len(issues) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrThreatDetected, strings.Join(issues, "; "))
	}

	check := &FileCheck{Extension: ft.ext, MIMEType: ft.mime}
	if declaredMIME != "" && declaredMIME != ft.mime {
		check.Warnings = append(check.Warnings,
			fmt.Sprintf("declared type %s, detected %s", declaredMIME, ft.mime))
	}
	return check, nil
}

// MaxSizeFor returns the upload size limit for a MIME type.
func MaxSizeFor(mime string) int64 {
	if limit, ok := maxSizeByMIME[mime]; ok {
		return limit
	}
	return DefaultMaxSize
}

// ValidateMetadata enforces the size cap and threat scan on user-supplied
// document metadata.
func ValidateMetadata(meta models.JSONMap) error {
	if len(meta) == 0 {
		return nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("metadata is not serializable: %w", err)
	}
	if len(encoded) > MaxMetadataSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMetadataTooLarge, len(encoded), MaxMetadataSize)
	}
	if threats := ScanText(string(encoded)); len(threats) > 0 {
		return fmt.Errorf("%w: %s", ErrMetadataSuspicious, strings.Join(threats, "; "))
	}
	return nil
}

func extensionOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

func typeForExtension(ext string) (fileType, bool) {
	for _, ft := range fileTypes {
		if ft.ext == ext {
			return ft, true
		}
	}
	return fileType{}, false
}

func matchesSignature(content []byte, signatures [][]byte) bool {
	for _, sig := range signatures {
		if bytes.HasPrefix(content, sig) {
			return true
		}
	}
	return false
}
