package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Windows device names are rejected regardless of extension; a file named
// CON.pdf breaks downloads on Windows clients.
var reservedFilenames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

var filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9._\-\s]+$`)

// ValidateFilename checks a filename for traversal, reserved names, control
// characters, and length. The name must carry an extension.
func ValidateFilename(filename string) error {
	name := strings.TrimSpace(filename)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFilename)
	}
	if len(name) > MaxFilenameLen {
		return fmt.Errorf("%w: %d characters, limit %d", ErrInvalidFilename, len(name), MaxFilenameLen)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: path separators are not allowed", ErrInvalidFilename)
	}
	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("%w: control characters are not allowed", ErrInvalidFilename)
		}
	}
	if strings.ContainsAny(name, `<>:"|?*`) {
		return fmt.Errorf("%w: forbidden characters", ErrInvalidFilename)
	}
	if !strings.Contains(name, ".") {
		return fmt.Errorf("%w: missing extension", ErrInvalidFilename)
	}

	stem := strings.TrimSuffix(name, path.Ext(name))
	if _, reserved := reservedFilenames[strings.ToUpper(stem)]; reserved {
		return fmt.Errorf("%w: %q is a reserved name", ErrInvalidFilename, stem)
	}
	if !filenamePattern.MatchString(name) {
		return fmt.Errorf("%w: unsupported characters", ErrInvalidFilename)
	}
	return nil
}

// SanitizeFilename strips any client-supplied directory components and
// whitespace, then validates the remainder. Returns the safe name.
func SanitizeFilename(filename string) (string, error) {
	name := filename
	// Clients sometimes send full paths; keep only the final element.
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSpace(name)
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	return name, nil
}
