// Package patch defines edit-proposal entities and the artifact revision
// fingerprint used by the drift detector.
package patch

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// RevisionLen is the hex length of a revision fingerprint.
const RevisionLen = 16

// Revision returns a short deterministic fingerprint of file content.
// Revisions are compared for equality only, never decoded.
func Revision(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])[:RevisionLen]
}

// PendingProposal is a proposed edit whose base revision is still assumed
// current. Tracked by the drift detector until the proposal is applied,
// rejected, or invalidated by a concurrent artifact change.
type PendingProposal struct {
	TaskID       string `json:"task_id"`
	ProposalID   string `json:"proposal_id"`
	TargetPath   string `json:"target_path"`
	BaseRevision string `json:"base_revision"`
}
