package transcript

import "time"

// Fragment is one unit of transcribed speech from a speech-to-text provider.
//
// Ordering invariant: fragments from the same speaker are processed in arrival
// order (non-decreasing sequence_no under an ordered transport); fragments
// from different speakers interleave with no cross-speaker guarantee.
//
// Delivery is at-least-once: the same fragment_id may arrive more than once
// and downstream consumers dedup by it.

type Fragment struct {
	FragmentID string `json:"fragment_id" db:"fragment_id"`
	FamilyID   string `json:"family_id" db:"family_id"`
	SessionID  string `json:"session_id" db:"session_id"`

	SpeakerID string `json:"speaker_id" db:"speaker_id"`
	// SequenceNo is per-speaker monotonic, assigned by the provider.
	SequenceNo int64 `json:"sequence_no" db:"sequence_no"`

	Text       string  `json:"text" db:"text"`
	Confidence float64 `json:"confidence" db:"confidence"`
	IsFinal    bool    `json:"is_final" db:"is_final"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}
