// Package fingerprint derives the deduplication key for analysis requests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// ErrCommitRequired is returned when no reference commit is supplied.
var ErrCommitRequired = errors.New("reference commit is required")

// ErrCommitLooksLikeTimestamp is returned when the reference commit is a clock value rather than content.
var ErrCommitLooksLikeTimestamp = errors.New("reference commit must be a commit sha, not a timestamp")

// Compute returns the lowercase hex SHA-256 over the analysis request tuple. Each field is length
// prefixed so ("ab","c") and ("a","bc") never collide.
func Compute(repoID, branch, commit string, depth model.AnalysisDepth) string {
	h := sha256.New()
	var n [4]byte
	for _, part := range []string{repoID, branch, commit, string(depth)} {
		binary.BigEndian.PutUint32(n[:], uint32(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateCommitRef rejects empty references and references that are wall-clock values.
func ValidateCommitRef(commit string) error {
	c := strings.TrimSpace(commit)
	if c == "" {
		return ErrCommitRequired
	}
	if isEpoch(c) {
		return ErrCommitLooksLikeTimestamp
	}
	if _, err := time.Parse(time.RFC3339, c); err == nil {
		return ErrCommitLooksLikeTimestamp
	}
	return nil
}

// isEpoch matches unix seconds (10 digits) or milliseconds (13 digits).
func isEpoch(s string) bool {
	if len(s) != 10 && len(s) != 13 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
