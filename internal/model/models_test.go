package model

import "testing"

func TestStatusString(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{StatusOK, "ok"},
		{StatusWarn, "warn"},
		{StatusCrit, "crit"},
		{Status(9), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tc.status), got, tc.want)
		}
	}
}

func TestCheckTypeIsValid(t *testing.T) {
	for _, typ := range KnownCheckTypes {
		if !typ.IsValid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if CheckType("icmp").IsValid() {
		t.Error("icmp is not a known type")
	}
}

func TestServiceSpecIsEnabled(t *testing.T) {
	if !(ServiceSpec{}).IsEnabled() {
		t.Error("nil Enabled should mean enabled")
	}
	off := false
	if (ServiceSpec{Enabled: &off}).IsEnabled() {
		t.Error("explicit false should disable")
	}
}
