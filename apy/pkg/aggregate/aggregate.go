// Package aggregate reduces per-account inflation rewards into epoch totals.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/stakeapy/apy/pkg/compound"
	"github.com/malbeclabs/stakeapy/apy/pkg/stake"
)

type Input struct {
	Epoch    uint64
	Accounts []solana.PublicKey
	// Voters is optional; when set it is aligned with Accounts.
	Voters []string
	// Rewards is aligned with Accounts; nil entries are accounts without a reward.
	Rewards              []*stake.Reward
	ManagementFeePercent float64
	Compounder           compound.Compounder
}

// AccountAggregate is one account's reward for an epoch. APY is net of
// validator commission and management fee; PreFeeAPY is net of commission only.
type AccountAggregate struct {
	Pubkey            string
	PreBalanceSOL     float64
	RewardSOL         float64
	PostBalanceSOL    float64
	CommissionPercent uint8
	RawAPY            float64
	PreFeeAPY         float64
	APY               float64
}

// EpochTotals are the epoch-level sums over all rewarded accounts.
// NetRewardLamports <= PreFeeRewardLamports <= RawRewardLamports.
type EpochTotals struct {
	Epoch                uint64
	SelectedAccounts     int
	RewardedAccounts     int
	DistinctVoters       int
	PreBalanceLamports   uint64
	RawRewardLamports    uint64
	PreFeeRewardLamports float64
	NetRewardLamports    float64
}

// Degenerate reports whether the epoch has no pre-balance to compute a rate against.
func (t EpochTotals) Degenerate() bool {
	return t.PreBalanceLamports == 0
}

func (t EpochTotals) RawRate() float64 {
	return rate(float64(t.RawRewardLamports), t.PreBalanceLamports)
}

func (t EpochTotals) PreFeeRate() float64 {
	return rate(t.PreFeeRewardLamports, t.PreBalanceLamports)
}

func (t EpochTotals) NetRate() float64 {
	return rate(t.NetRewardLamports, t.PreBalanceLamports)
}

func rate(reward float64, pre uint64) float64 {
	if pre == 0 {
		return 0
	}
	return reward / float64(pre)
}

type EpochResult struct {
	Totals EpochTotals
	// Accounts is sorted by descending APY; ties keep selection order.
	Accounts []AccountAggregate
}

// Deductions returns the reward left after validator commission and after the
// management fee.
func Deductions(amount uint64, commissionPercent uint8, managementFeePercent float64) (preFee, net float64) {
	preFee = float64(amount) * (100 - float64(commissionPercent)) / 100
	net = preFee * (100 - managementFeePercent) / 100
	return preFee, net
}

func Aggregate(in Input) (*EpochResult, error) {
	if len(in.Rewards) != len(in.Accounts) {
		return nil, fmt.Errorf("epoch %d: %d rewards for %d accounts", in.Epoch, len(in.Rewards), len(in.Accounts))
	}
	if in.Voters != nil && len(in.Voters) != len(in.Accounts) {
		return nil, fmt.Errorf("epoch %d: %d voters for %d accounts", in.Epoch, len(in.Voters), len(in.Accounts))
	}
	if in.ManagementFeePercent < 0 || in.ManagementFeePercent > 100 {
		return nil, fmt.Errorf("management fee %v%% out of range [0, 100]", in.ManagementFeePercent)
	}

	res := &EpochResult{
		Totals: EpochTotals{
			Epoch:            in.Epoch,
			SelectedAccounts: len(in.Accounts),
			DistinctVoters:   distinct(in.Voters),
		},
	}
	for i, r := range in.Rewards {
		if r == nil {
			continue
		}
		if r.CommissionPercent > 100 {
			return nil, fmt.Errorf("epoch %d: account %s has commission %d%% out of range", in.Epoch, in.Accounts[i], r.CommissionPercent)
		}

		pre := r.PreBalanceLamports()
		preFee, net := Deductions(r.AmountLamports, r.CommissionPercent, in.ManagementFeePercent)

		acc := AccountAggregate{
			Pubkey:            in.Accounts[i].String(),
			PreBalanceSOL:     stake.LamportsToSOL(float64(pre)),
			RewardSOL:         stake.LamportsToSOL(float64(r.AmountLamports)),
			PostBalanceSOL:    stake.LamportsToSOL(float64(r.PostBalanceLamports)),
			CommissionPercent: r.CommissionPercent,
		}
		var err error
		if acc.RawAPY, err = in.Compounder.Annualize(1, rate(float64(r.AmountLamports), pre)); err != nil {
			return nil, fmt.Errorf("epoch %d: account %s: %w", in.Epoch, acc.Pubkey, err)
		}
		if acc.PreFeeAPY, err = in.Compounder.Annualize(1, rate(preFee, pre)); err != nil {
			return nil, fmt.Errorf("epoch %d: account %s: %w", in.Epoch, acc.Pubkey, err)
		}
		if acc.APY, err = in.Compounder.Annualize(1, rate(net, pre)); err != nil {
			return nil, fmt.Errorf("epoch %d: account %s: %w", in.Epoch, acc.Pubkey, err)
		}
		res.Accounts = append(res.Accounts, acc)

		res.Totals.RewardedAccounts++
		res.Totals.PreBalanceLamports += pre
		res.Totals.RawRewardLamports += r.AmountLamports
		res.Totals.PreFeeRewardLamports += preFee
		res.Totals.NetRewardLamports += net
	}

	sort.SliceStable(res.Accounts, func(i, j int) bool {
		return res.Accounts[i].APY > res.Accounts[j].APY
	})
	return res, nil
}

func distinct(voters []string) int {
	seen := make(map[string]struct{}, len(voters))
	for _, v := range voters {
		if v != "" {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}
