package pipeline

// MessageKind tags a Message's payload: a closed set of typed variants
// over a single duplex channel, rather than dynamic dispatch on message
// shape.
type MessageKind string

const (
	// KindFetchVerifiedContent names the fetch request itself. A request is
	// made by calling Context.FetchVerifiedContent, and the pipeline never
	// emits a Message of this kind; every other variant flows outbound from
	// the pipeline to the caller.
	KindFetchVerifiedContent MessageKind = "FetchVerifiedContent"
	// KindProgressUpdate carries a verifier.Progress tick for the top-level
	// content as it streams through the whole-body hash verifier.
	KindProgressUpdate MessageKind = "ProgressUpdate"
	// KindResourceVerificationUpdate carries one manifest leaf's terminal
	// verification outcome as it completes during fan-out.
	KindResourceVerificationUpdate MessageKind = "ResourceVerificationUpdate"
	// KindMainContentVerificationUpdate carries the terminal verdict for
	// the top-level fetch (the single resource, or the manifest together
	// with its leaves).
	KindMainContentVerificationUpdate MessageKind = "MainContentVerificationUpdate"
)

// ProgressPayload is KindProgressUpdate's payload.
type ProgressPayload struct {
	Percentage  float64
	ProcessedMB float64
	TotalMB     float64
}

// ResourceVerificationPayload is KindResourceVerificationUpdate's payload:
// one manifest leaf's status as it resolves.
type ResourceVerificationPayload struct {
	Path      string
	Reference string
	Status    string
	Reason    string
}

// MainContentVerificationPayload is KindMainContentVerificationUpdate's
// payload: the terminal verdict for the request as a whole.
type MainContentVerificationPayload struct {
	Verified      bool
	FailureReason string
}

// Message is one event on the duplex channel FetchVerifiedContent returns.
// Exactly one of the typed payload fields is populated, matching Kind.
type Message struct {
	Kind                 MessageKind
	Progress             *ProgressPayload
	ResourceVerification *ResourceVerificationPayload
	MainVerification     *MainContentVerificationPayload
}
