package security

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"../../../etc/passwd", "passwd"},
		{"..\\..\\windows\\system32.jpg", "system32.jpg"},
		{"/abs/path/pic.png", "pic.png"},
		{"bus stop.jpg", "bus_stop.jpg"},
		{"bad\x00name.jpg", "badname.jpg"},
		{"", "file"},
		{"..", "file"},
		{".", "file"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilePathValidation(t *testing.T) {
	baseDir := "/safe/base"

	tests := []struct {
		path      string
		shouldErr bool
	}{
		{"normal.jpg", false},
		{"tasks/task-1/sub-1/file.jpg", false},
		{"../../../etc/passwd", true},
		{"..\\windows\\system32", true},
		{"/etc/passwd", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := SanitizePath(baseDir, tt.path)
		if (err != nil) != tt.shouldErr {
			t.Errorf("SanitizePath(%q) error = %v, shouldErr %v", tt.path, err, tt.shouldErr)
		}
	}
}

func TestValidateExtension(t *testing.T) {
	tests := []struct {
		filename string
		allowed  []string
		expected bool
	}{
		{"image.jpg", AllowedArtefactExtensions, true},
		{"image.JPG", AllowedArtefactExtensions, true},
		{"image.HeIc", AllowedArtefactExtensions, true},
		{"image.gif", AllowedArtefactExtensions, false},
		{"report.pdf", AllowedEvidenceExtensions, true},
		{"report.pdf", AllowedArtefactExtensions, false},
		{"script.exe", AllowedEvidenceExtensions, false},
		{"noextension", AllowedArtefactExtensions, false},
		{".jpg", AllowedArtefactExtensions, false},
		{"", AllowedArtefactExtensions, false},
		{"file.jpg", nil, false},
	}

	for _, tt := range tests {
		result := ValidateExtension(tt.filename, tt.allowed)
		if result != tt.expected {
			t.Errorf("ValidateExtension(%q, %v) = %v, want %v", tt.filename, tt.allowed, result, tt.expected)
		}
	}
}

func TestArtefactKey(t *testing.T) {
	key, err := ArtefactKey("task-1", "sub-1", "../../north face.jpg")
	if err != nil {
		t.Fatalf("ArtefactKey: %v", err)
	}
	if key != "tasks/task-1/sub-1/north_face.jpg" {
		t.Errorf("ArtefactKey = %q", key)
	}
	if err := ValidateArtefactKey(key, "task-1", "sub-1"); err != nil {
		t.Errorf("ValidateArtefactKey(%q) = %v", key, err)
	}

	bad := []struct {
		task, sub, file string
	}{
		{"task-1", "sub-1", "payload.exe"},
		{"../task", "sub-1", "a.jpg"},
		{"task-1", "sub/1", "a.jpg"},
		{"", "sub-1", "a.jpg"},
	}
	for _, b := range bad {
		if _, err := ArtefactKey(b.task, b.sub, b.file); err == nil {
			t.Errorf("ArtefactKey(%q, %q, %q) should fail", b.task, b.sub, b.file)
		}
	}
}

func TestValidateArtefactKey(t *testing.T) {
	tests := []struct {
		key       string
		shouldErr bool
	}{
		{"tasks/task-1/sub-1/a.jpg", false},
		{"tasks/task-2/sub-1/a.jpg", true},
		{"tasks/task-1/sub-2/a.jpg", true},
		{"tasks/task-1/sub-1/../a.jpg", true},
		{"tasks/task-1/sub-1/a.exe", true},
		{"other/task-1/sub-1/a.jpg", true},
		{"tasks/task-1/sub-1", true},
	}

	for _, tt := range tests {
		err := ValidateArtefactKey(tt.key, "task-1", "sub-1")
		if (err != nil) != tt.shouldErr {
			t.Errorf("ValidateArtefactKey(%q) error = %v, shouldErr %v", tt.key, err, tt.shouldErr)
		}
	}
}

func TestEvidenceKey(t *testing.T) {
	key, err := EvidenceKey("disp-1", "receipt.pdf")
	if err != nil {
		t.Fatalf("EvidenceKey: %v", err)
	}
	if !strings.HasPrefix(key, "disputes/disp-1/") {
		t.Errorf("EvidenceKey = %q", key)
	}
	if _, err := EvidenceKey("disp-1", "run.sh"); err == nil {
		t.Error("EvidenceKey should reject shell scripts")
	}
}
