package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// userHashLen is the number of hex characters kept from the user id digest.
const userHashLen = 12

// UserRoot returns the host directory backing one user's workspace:
// {workspaceRoot}/user-{hash(userID)}. The hash keeps arbitrary user ids out
// of filesystem names. The directory is not created here.
func UserRoot(workspaceRoot, userID string) string {
	return filepath.Join(workspaceRoot, "user-"+shortHash(userID))
}

// ConvDir returns the per-conversation directory under a user root. The
// conversation id is reduced to a single safe path segment.
func ConvDir(userRoot, conversationID string) string {
	return filepath.Join(userRoot, sanitizeSegment(conversationID))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:userHashLen]
}

// sanitizeSegment maps an arbitrary id to one path segment: only
// [A-Za-z0-9._-] survive, everything else becomes '-'. Empty or dot-only
// input falls back to "default".
func sanitizeSegment(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	seg := b.String()
	if seg == "" || strings.Trim(seg, ".") == "" {
		return "default"
	}
	return seg
}
