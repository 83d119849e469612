package firestore

import (
	"testing"
	"time"
)

func TestCouponRedeemableWindows(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		doc  couponDocument
		want bool
	}{
		{name: "no window", doc: couponDocument{IsActive: true}, want: true},
		{name: "inside window", doc: couponDocument{IsActive: true, ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour)}, want: true},
		{name: "open ended", doc: couponDocument{IsActive: true, ValidFrom: now.Add(-time.Hour)}, want: true},
		{name: "not started", doc: couponDocument{IsActive: true, ValidFrom: now.Add(time.Hour)}, want: false},
		{name: "expired", doc: couponDocument{IsActive: true, ValidUntil: now.Add(-time.Hour)}, want: false},
		{name: "inactive", doc: couponDocument{ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour)}, want: false},
	}
	for _, tc := range cases {
		if got := couponRedeemable(tc.doc, now); got != tc.want {
			t.Errorf("%s: couponRedeemable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
