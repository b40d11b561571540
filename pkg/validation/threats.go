package validation

import (
	"bytes"
	"regexp"
)

// Threat patterns grouped by class. The scanner reports the class name, not
// the specific pattern, to keep responses from echoing attacker input.
var threatPatterns = map[string][]*regexp.Regexp{
	"sql_injection": {
		regexp.MustCompile(`(?i)\bUNION\b.*\bSELECT\b`),
		regexp.MustCompile(`(?i)\bDROP\b.*\bTABLE\b`),
		regexp.MustCompile(`(?i)\bINSERT\b.*\bINTO\b`),
		regexp.MustCompile(`'\s*(?i:OR)\s*'`),
		regexp.MustCompile(`(?i)\b(EXEC|EXECUTE)\b`),
	},
	"xss": {
		regexp.MustCompile(`(?i)<script[^>]*>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)<iframe[^>]*>`),
		regexp.MustCompile(`(?i)<object[^>]*>`),
		regexp.MustCompile(`(?i)<embed[^>]*>`),
	},
	"path_traversal": {
		regexp.MustCompile(`\.\.[\\/]`),
		regexp.MustCompile(`[\\/]\.\.`),
		regexp.MustCompile(`(?i)%2e%2e`),
		regexp.MustCompile(`(?i)\.\.%2f`),
	},
}

// Byte patterns that never belong in a document upload, checked against the
// head of the file regardless of type.
var maliciousPatterns = []struct {
	pattern []byte
	issue   string
	// prefixOnly restricts the match to offset zero. Executable headers
	// are only meaningful there; two arbitrary bytes like "MZ" appear in
	// any compressed stream.
	prefixOnly bool
}{
	{pattern: []byte("<?php"), issue: "embedded PHP code"},
	{pattern: []byte("#!/bin/"), issue: "embedded shell script"},
	{pattern: []byte{0x4d, 0x5a}, issue: "Windows executable", prefixOnly: true},
	{pattern: []byte{0x7f, 0x45, 0x4c, 0x46}, issue: "ELF executable", prefixOnly: true},
}

// ScanText reports the threat classes whose patterns match s. An empty
// result means the text is clean.
func ScanText(s string) []string {
	var found []string
	for class, patterns := range threatPatterns {
		for _, p := range patterns {
			if p.MatchString(s) {
				found = append(found, class)
				break
			}
		}
	}
	return found
}

// scanContent inspects the head of a file body for injected code. Text
// files get the full regex scan; binary formats are only checked for
// executable headers and script fragments, since their compressed payloads
// would otherwise trip keyword patterns at random.
func scanContent(content []byte, mime string) []string {
	head := content
	if len(head) > threatScanWindow {
		head = head[:threatScanWindow]
	}

	var issues []string
	for _, mp := range maliciousPatterns {
		if mp.prefixOnly {
			if bytes.HasPrefix(content, mp.pattern) {
				issues = append(issues, mp.issue)
			}
			continue
		}
		if bytes.Contains(head, mp.pattern) {
			issues = append(issues, mp.issue)
		}
	}

	if bytes.Contains(head, []byte("<script")) {
		issues = append(issues, "embedded script tag")
	}

	if mime == "text/plain" {
		issues = append(issues, ScanText(string(head))...)
	}

	if mime == "application/pdf" {
		if bytes.Contains(content, []byte("/JavaScript")) || bytes.Contains(content, []byte("/JS")) {
			issues = append(issues, "pdf contains JavaScript")
		}
		if bytes.Contains(content, []byte("/Launch")) {
			issues = append(issues, "pdf contains launch action")
		}
		if bytes.Contains(content, []byte("/EmbeddedFile")) {
			issues = append(issues, "pdf contains embedded files")
		}
	}

	return issues
}
