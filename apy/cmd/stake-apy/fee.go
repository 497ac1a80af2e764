package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/stakeapy/apy/pkg/stake"
)

const (
	feeSourceEnv     = "env"
	feeSourceFlag    = "flag"
	feeSourceOnChain = "onchain"
)

// resolveManagementFee returns the management fee percent and where it came
// from. MANAGEMENT_FEE_PERCENT overrides --management-fee; with neither set the
// pool's reward fee is read from its state account.
func resolveManagementFee(ctx context.Context, rpc stake.AccountInfoRPC, state solana.PublicKey, envValue string, flagSet bool, flagValue float64) (float64, string, error) {
	var fee float64
	var source string
	switch {
	case envValue != "":
		v, err := strconv.ParseFloat(envValue, 64)
		if err != nil {
			return 0, "", fmt.Errorf("invalid MANAGEMENT_FEE_PERCENT %q: %w", envValue, err)
		}
		fee, source = v, feeSourceEnv
	case flagSet:
		fee, source = flagValue, feeSourceFlag
	default:
		v, err := stake.ReadManagementFee(ctx, rpc, state)
		if err != nil {
			return 0, "", fmt.Errorf("failed to read management fee: %w", err)
		}
		fee, source = v, feeSourceOnChain
	}
	if fee < 0 || fee > 100 {
		return 0, "", fmt.Errorf("management fee %v must be within [0, 100]", fee)
	}
	return fee, source, nil
}
