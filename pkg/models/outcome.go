package models

// PredictionOutcome classifies a launch against the last prediction.
type PredictionOutcome int

const (
	NoPrediction PredictionOutcome = iota
	GoodPrediction
	BadPrediction
	predictionOutcomeCount
)

// PredictionOutcomeCount is the bucket count for outcome histograms.
const PredictionOutcomeCount = int(predictionOutcomeCount)

func (o PredictionOutcome) String() string {
	switch o {
	case GoodPrediction:
		return "good_prediction"
	case BadPrediction:
		return "bad_prediction"
	default:
		return "no_prediction"
	}
}

// MarshalText renders the outcome by name in JSON bodies.
func (o PredictionOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name; unknown names read as NoPrediction.
func (o *PredictionOutcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "good_prediction":
		*o = GoodPrediction
	case "bad_prediction":
		*o = BadPrediction
	default:
		*o = NoPrediction
	}
	return nil
}

// WarmupStateOnLaunch records whether the launching client warmed up first.
type WarmupStateOnLaunch int

const (
	SessionNoWarmupNotCalled WarmupStateOnLaunch = iota
	SessionNoWarmupAlreadyCalled
	SessionWarmup
	NoSessionNoWarmup
	NoSessionWarmup
	warmupStateCount
)

// WarmupStateCount is the bucket count for warmup state histograms.
const WarmupStateCount = int(warmupStateCount)

// DenialReason says why a speculation was refused. The zero value allows.
type DenialReason string

const (
	Allowed                   DenialReason = ""
	DeniedDeviceClass         DenialReason = "device_class"
	DeniedThirdPartyCookies   DenialReason = "third_party_cookies_blocked"
	DeniedNetworkPrediction   DenialReason = "network_prediction_disabled"
	DeniedDataSaver           DenialReason = "data_saver"
	DeniedMeteredNetwork      DenialReason = "metered_network"
	DeniedRateLimited         DenialReason = "rate_limited"
	DeniedBanned              DenialReason = "banned"
	DeniedBackgroundCaller    DenialReason = "background_caller"
	DeniedWarmupNotCalled     DenialReason = "warmup_not_called"
	DeniedHiddenTabNotAllowed DenialReason = "hidden_tab_not_allowed"
)

// DenialBuckets orders denial reasons for enumerated metrics.
var DenialBuckets = []DenialReason{
	Allowed,
	DeniedDeviceClass,
	DeniedThirdPartyCookies,
	DeniedNetworkPrediction,
	DeniedDataSaver,
	DeniedMeteredNetwork,
	DeniedRateLimited,
	DeniedBanned,
	DeniedBackgroundCaller,
	DeniedWarmupNotCalled,
	DeniedHiddenTabNotAllowed,
}

// Bucket returns the histogram bucket of r.
func (r DenialReason) Bucket() int {
	for i, b := range DenialBuckets {
		if b == r {
			return i
		}
	}
	return len(DenialBuckets)
}

// Relation is the kind of app to web origin association being verified.
type Relation string

const (
	RelationUseAsOrigin   Relation = "use_as_origin"
	RelationHandleAllURLs Relation = "handle_all_urls"
)

// Valid reports whether r is a known relation.
func (r Relation) Valid() bool {
	return r == RelationUseAsOrigin || r == RelationHandleAllURLs
}

// SpeculationState is the externally visible state of the speculation slot.
type SpeculationState string

const (
	SpeculationIdle        SpeculationState = "idle"
	SpeculationSpeculating SpeculationState = "speculating"
)
