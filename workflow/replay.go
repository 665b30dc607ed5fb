package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/flowcore/workflow/errs"
)

// ErrReplayMismatch is returned by VerifyReplayHash when a live execution's
// response disagrees with its recorded counterpart — a signal that a
// Recordable node behaved non-deterministically.
var ErrReplayMismatch = errs.New(errs.Conflict, "replay", "replayed response does not match recorded hash")

// RecordedIO captures one external interaction (LLM call, tool call) for
// deterministic replay without re-invoking the external service
// (SPEC_FULL §12 "Deterministic replay").
type RecordedIO struct {
	NodeID    string
	Attempt   int
	Request   json.RawMessage
	Response  json.RawMessage
	Hash      string
	Timestamp time.Time
	Duration  time.Duration
}

// recordIO serializes request/response and hashes the response so a later
// replay can detect drift. duration is the caller-measured wall-clock time
// the live I/O took; it has no bearing on the hash.
func recordIO(nodeID string, attempt int, request, response any, now time.Time, duration time.Duration) (RecordedIO, error) {
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return RecordedIO{}, fmt.Errorf("marshal request: %w", err)
	}
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return RecordedIO{}, fmt.Errorf("marshal response: %w", err)
	}
	sum := sha256.Sum256(responseJSON)
	return RecordedIO{
		NodeID:    nodeID,
		Attempt:   attempt,
		Request:   requestJSON,
		Response:  responseJSON,
		Hash:      "sha256:" + hex.EncodeToString(sum[:]),
		Timestamp: now,
		Duration:  duration,
	}, nil
}

// lookupRecordedIO finds the recording matching (nodeID, attempt).
func lookupRecordedIO(recordings []RecordedIO, nodeID string, attempt int) (RecordedIO, bool) {
	for _, rec := range recordings {
		if rec.NodeID == nodeID && rec.Attempt == attempt {
			return rec, true
		}
	}
	return RecordedIO{}, false
}

// verifyReplayHash compares actualResponse's hash against recorded.Hash,
// returning ErrReplayMismatch on disagreement.
func verifyReplayHash(recorded RecordedIO, actualResponse any) error {
	actualJSON, err := json.Marshal(actualResponse)
	if err != nil {
		return fmt.Errorf("marshal actual response: %w", err)
	}
	sum := sha256.Sum256(actualJSON)
	actualHash := "sha256:" + hex.EncodeToString(sum[:])
	if actualHash != recorded.Hash {
		return fmt.Errorf("%w: expected %s, got %s", ErrReplayMismatch, recorded.Hash, actualHash)
	}
	return nil
}
