package models

import (
	"fmt"
)

// Flag names one per-session permission bit.
type Flag string

const (
	FlagIgnoreURLFragments        Flag = "ignore_url_fragments"
	FlagSpeculateOnMeteredNetwork Flag = "speculate_on_metered_network"
	FlagCanUseHiddenTab           Flag = "can_use_hidden_tab"
	FlagAllowParallelRequest      Flag = "allow_parallel_request"
	FlagSendNavigationInfo        Flag = "send_navigation_info"
	FlagSendScrollState           Flag = "send_scroll_state"
	FlagGetPageMetrics            Flag = "get_page_metrics"
	FlagHideDomainDisplay         Flag = "hide_domain_display"
)

// AllFlags lists every permission flag in a stable order.
var AllFlags = []Flag{
	FlagIgnoreURLFragments,
	FlagSpeculateOnMeteredNetwork,
	FlagCanUseHiddenTab,
	FlagAllowParallelRequest,
	FlagSendNavigationInfo,
	FlagSendScrollState,
	FlagGetPageMetrics,
	FlagHideDomainDisplay,
}

// ParseFlag validates a flag name received from a client.
func ParseFlag(name string) (Flag, error) {
	for _, f := range AllFlags {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown flag %q", name)
}

// PermissionFlags is the boolean permission set of a session.
type PermissionFlags struct {
	IgnoreURLFragments        bool `json:"ignore_url_fragments" yaml:"ignore_url_fragments" toml:"ignore_url_fragments"`
	SpeculateOnMeteredNetwork bool `json:"speculate_on_metered_network" yaml:"speculate_on_metered_network" toml:"speculate_on_metered_network"`
	CanUseHiddenTab           bool `json:"can_use_hidden_tab" yaml:"can_use_hidden_tab" toml:"can_use_hidden_tab"`
	AllowParallelRequest      bool `json:"allow_parallel_request" yaml:"allow_parallel_request" toml:"allow_parallel_request"`
	SendNavigationInfo        bool `json:"send_navigation_info" yaml:"send_navigation_info" toml:"send_navigation_info"`
	SendScrollState           bool `json:"send_scroll_state" yaml:"send_scroll_state" toml:"send_scroll_state"`
	GetPageMetrics            bool `json:"get_page_metrics" yaml:"get_page_metrics" toml:"get_page_metrics"`
	HideDomainDisplay         bool `json:"hide_domain_display" yaml:"hide_domain_display" toml:"hide_domain_display"`
}

func (p *PermissionFlags) field(f Flag) *bool {
	switch f {
	case FlagIgnoreURLFragments:
		return &p.IgnoreURLFragments
	case FlagSpeculateOnMeteredNetwork:
		return &p.SpeculateOnMeteredNetwork
	case FlagCanUseHiddenTab:
		return &p.CanUseHiddenTab
	case FlagAllowParallelRequest:
		return &p.AllowParallelRequest
	case FlagSendNavigationInfo:
		return &p.SendNavigationInfo
	case FlagSendScrollState:
		return &p.SendScrollState
	case FlagGetPageMetrics:
		return &p.GetPageMetrics
	case FlagHideDomainDisplay:
		return &p.HideDomainDisplay
	}
	return nil
}

// Get returns the value of f; unknown flags read as false.
func (p PermissionFlags) Get(f Flag) bool {
	if ptr := p.field(f); ptr != nil {
		return *ptr
	}
	return false
}

// Set updates f and reports whether the flag is known.
func (p *PermissionFlags) Set(f Flag, value bool) bool {
	ptr := p.field(f)
	if ptr == nil {
		return false
	}
	*ptr = value
	return true
}
