package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStakeAPY_Cmd_ResolveWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  uint64
		from, to int64
		wantFrom uint64
		wantTo   uint64
		wantErr  string
	}{
		{name: "defaults to last five completed epochs", current: 520, from: -1, to: -1, wantFrom: 515, wantTo: 519},
		{name: "explicit range", current: 520, from: 400, to: 410, wantFrom: 400, wantTo: 410},
		{name: "from relative to explicit to", current: 520, from: -1, to: 300, wantFrom: 296, wantTo: 300},
		{name: "explicit from with default to", current: 520, from: 510, to: -1, wantFrom: 510, wantTo: 519},
		{name: "from after to is kept", current: 520, from: 519, to: 500, wantFrom: 519, wantTo: 500},
		{name: "early chain", current: 3, from: -1, to: -1, wantFrom: 0, wantTo: 2},
		{name: "current epoch not completed", current: 520, from: 510, to: 520, wantErr: "not completed"},
		{name: "no completed epoch", current: 0, from: -1, to: -1, wantErr: "no completed epoch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			from, to, err := resolveWindow(tt.current, tt.from, tt.to)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantFrom, from)
			require.Equal(t, tt.wantTo, to)
		})
	}
}
