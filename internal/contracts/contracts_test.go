package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditorVerdictIsClean(t *testing.T) {
	cases := []struct {
		verdict        AuditorVerdict
		minorTolerated bool
		want           bool
	}{
		{VerdictAccept, false, true},
		{VerdictAccept, true, true},
		{VerdictAcceptWithMinor, true, true},
		{VerdictAcceptWithMinor, false, false},
		{VerdictReject, true, false},
		{VerdictReject, false, false},
	}

	for _, tc := range cases {
		got := tc.verdict.IsClean(tc.minorTolerated)
		assert.Equal(t, tc.want, got, "verdict=%s minorTolerated=%v", tc.verdict, tc.minorTolerated)
	}
}
