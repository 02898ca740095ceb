package smtpauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdictString(t *testing.T) {
	cases := map[Verdict]string{
		VerdictNone:      "none",
		VerdictPass:      "pass",
		VerdictFail:      "fail",
		VerdictSoftFail:  "softfail",
		VerdictNeutral:   "neutral",
		VerdictTempError: "temperror",
		VerdictPermError: "permerror",
	}
	for verdict, want := range cases {
		assert.Equal(t, want, verdict.String())
	}
}
