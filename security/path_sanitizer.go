package security

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// SanitizeFilename removes dangerous path sequences and normalizes filename
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "file"
	}

	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = path.Base(filename)

	filename = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		if r == ' ' {
			return '_'
		}
		return r
	}, filename)

	if len(filename) > 255 {
		filename = filename[:255]
	}

	if filename == "" || filename == "." || filename == ".." || filename == "/" {
		filename = "file"
	}

	return filename
}

// SanitizePath validates a path is safe and doesn't escape base directory
func SanitizePath(baseDir, userPath string) (string, error) {
	if baseDir == "" || userPath == "" {
		return "", fmt.Errorf("invalid path parameters")
	}

	if strings.Contains(userPath, "../") || strings.Contains(userPath, "..\\") {
		return "", fmt.Errorf("path traversal detected: %s", userPath)
	}

	if filepath.IsAbs(userPath) {
		return "", fmt.Errorf("absolute path not allowed: %s", userPath)
	}

	fullPath := filepath.Join(baseDir, userPath)
	cleanPath := filepath.Clean(fullPath)

	baseDir = filepath.Clean(baseDir)
	if !strings.HasPrefix(cleanPath, baseDir+string(filepath.Separator)) && cleanPath != baseDir {
		return "", fmt.Errorf("path traversal detected: %s", userPath)
	}

	return cleanPath, nil
}

// ValidateExtension checks if file extension is in whitelist
func ValidateExtension(filename string, allowed []string) bool {
	if filename == "" || len(allowed) == 0 {
		return false
	}

	ext := strings.ToLower(filepath.Ext(filename))
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || strings.TrimSuffix(filename, "."+ext) == "" {
		return false
	}

	for _, allowedExt := range allowed {
		allowedLower := strings.ToLower(allowedExt)
		allowedLower = strings.TrimPrefix(allowedLower, ".")
		if allowedLower == ext {
			return true
		}
	}
	return false
}

// ArtefactKey builds the storage key tasks/<task>/<submission>/<file> for an upload.
func ArtefactKey(taskID, submissionID, filename string) (string, error) {
	if !idPattern.MatchString(taskID) || !idPattern.MatchString(submissionID) {
		return "", fmt.Errorf("invalid identifier in artefact key")
	}
	name := SanitizeFilename(filename)
	if !ValidateExtension(name, AllowedArtefactExtensions) {
		return "", fmt.Errorf("extension not allowed: %s", name)
	}
	return path.Join("tasks", taskID, submissionID, name), nil
}

// ValidateArtefactKey checks that key is a clean artefact key owned by the submission.
func ValidateArtefactKey(key, taskID, submissionID string) error {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "tasks" {
		return fmt.Errorf("malformed artefact key: %s", key)
	}
	if parts[1] != taskID || parts[2] != submissionID {
		return fmt.Errorf("artefact key belongs to another submission: %s", key)
	}
	if SanitizeFilename(parts[3]) != parts[3] || !ValidateExtension(parts[3], AllowedArtefactExtensions) {
		return fmt.Errorf("invalid artefact filename: %s", parts[3])
	}
	return nil
}

// EvidenceKey builds disputes/<dispute>/<file> for an evidence attachment.
func EvidenceKey(disputeID, filename string) (string, error) {
	if !idPattern.MatchString(disputeID) {
		return "", fmt.Errorf("invalid identifier in evidence key")
	}
	name := SanitizeFilename(filename)
	if !ValidateExtension(name, AllowedEvidenceExtensions) {
		return "", fmt.Errorf("extension not allowed: %s", name)
	}
	return path.Join("disputes", disputeID, name), nil
}
