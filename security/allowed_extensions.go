package security

// AllowedArtefactExtensions are the capture formats a worker may upload.
var AllowedArtefactExtensions = []string{
	".jpg", ".jpeg", ".png", ".heic", ".webp",
}

// AllowedEvidenceExtensions are accepted for dispute evidence attachments.
var AllowedEvidenceExtensions = []string{
	".jpg", ".jpeg", ".png", ".heic", ".webp", ".pdf", ".txt", ".json",
}
