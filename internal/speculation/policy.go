package speculation

import (
	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/pkg/models"
)

// Policy holds the environment inputs MaySpeculate checks.
type Policy struct {
	LowEndDevice             bool
	ThirdPartyCookiesBlocked bool
	NetworkPrediction        bool
	DataSaver                bool
	MeteredNetwork           bool
}

// PolicyFromConfig converts the policy config section.
func PolicyFromConfig(c config.PolicyConfig) Policy {
	return Policy{
		LowEndDevice:             c.DeviceClass == "low_end",
		ThirdPartyCookiesBlocked: c.ThirdPartyCookiesBlocked,
		NetworkPrediction:        c.NetworkPredictionEnabled(),
		DataSaver:                c.DataSaver,
		MeteredNetwork:           c.MeteredNetwork,
	}
}

// evaluate applies the checks in order and returns the first failure.
func (p Policy) evaluate(flags models.PermissionFlags) models.DenialReason {
	switch {
	case p.LowEndDevice:
		return models.DeniedDeviceClass
	case p.ThirdPartyCookiesBlocked:
		return models.DeniedThirdPartyCookies
	case !p.NetworkPrediction:
		return models.DeniedNetworkPrediction
	case p.DataSaver:
		return models.DeniedDataSaver
	case p.MeteredNetwork && !flags.SpeculateOnMeteredNetwork:
		return models.DeniedMeteredNetwork
	}
	return models.Allowed
}
