package icloud

// WarningKind identifies a non-fatal anomaly observed while talking to
// the service. Warnings never halt a run; they are surfaced through a
// callback so a long sync can keep going while logging them.
type WarningKind string

const (
	// WarnUnknownAlbumType is emitted when an album record carries a type
	// code outside the recognized set and is dropped from the model.
	WarnUnknownAlbumType WarningKind = "unknown_album_type"

	// WarnDuplicateRecordFiltered is emitted when overlapping page
	// windows return the same record identifier more than once.
	WarnDuplicateRecordFiltered WarningKind = "duplicate_record_filtered"

	// WarnIrrelevantRecordFiltered is emitted when a container-relation
	// record is dropped from an asset sweep.
	WarnIrrelevantRecordFiltered WarningKind = "irrelevant_record_filtered"

	// WarnCountMismatch is emitted when the realized record count differs
	// from the service's own count endpoint, which is known unreliable.
	WarnCountMismatch WarningKind = "count_mismatch"

	// WarnMfaResendFailed is emitted when re-requesting a one-time code
	// fails; the session stays in the MFA-required state.
	WarnMfaResendFailed WarningKind = "mfa_resend_failed"
)

// Warning is a single non-fatal anomaly.
type Warning struct {
	Kind    WarningKind
	Message string
}

// WarningFunc receives non-fatal warnings. Implementations must not block.
type WarningFunc func(Warning)
