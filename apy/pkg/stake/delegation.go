package stake

import (
	"encoding/json"
	"fmt"
)

// Delegation is the delegation section of a parsed stake account.
type Delegation struct {
	ActivationEpoch    uint64
	DeactivationEpoch  uint64
	StakeLamports      uint64
	Voter              string
	WarmupCooldownRate float64
}

// jsonParsed stake account layout, e.g.
//
//	{"program":"stake","parsed":{"type":"delegated","info":{"stake":{"delegation":{
//	  "activationEpoch":"207","deactivationEpoch":"18446744073709551615",
//	  "stake":"1000000000","voter":"...","warmupCooldownRate":0.25}}}}}
type parsedStakeAccount struct {
	Parsed struct {
		Type string `json:"type"`
		Info struct {
			Stake *struct {
				Delegation *struct {
					ActivationEpoch    uint64  `json:"activationEpoch,string"`
					DeactivationEpoch  uint64  `json:"deactivationEpoch,string"`
					Stake              uint64  `json:"stake,string"`
					Voter              string  `json:"voter"`
					WarmupCooldownRate float64 `json:"warmupCooldownRate"`
				} `json:"delegation"`
			} `json:"stake"`
		} `json:"info"`
	} `json:"parsed"`
}

// ParseDelegation extracts the delegation from jsonParsed stake account data.
// It returns nil without error for accounts that are initialized but not delegated.
func ParseDelegation(data []byte) (*Delegation, error) {
	var acc parsedStakeAccount
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stake account: %w", err)
	}
	if acc.Parsed.Info.Stake == nil || acc.Parsed.Info.Stake.Delegation == nil {
		return nil, nil
	}
	d := acc.Parsed.Info.Stake.Delegation
	return &Delegation{
		ActivationEpoch:    d.ActivationEpoch,
		DeactivationEpoch:  d.DeactivationEpoch,
		StakeLamports:      d.Stake,
		Voter:              d.Voter,
		WarmupCooldownRate: d.WarmupCooldownRate,
	}, nil
}
