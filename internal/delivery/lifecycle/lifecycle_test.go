package lifecycle

import (
	"encoding/json"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want Status
	}{
		{"pending", StatusPending},
		{"PENDING", StatusPending},
		{"Confirmed", StatusConfirmed},
		{"preparing", StatusCooking},
		{"Cooking", StatusCooking},
		{"handover", StatusReady},
		{"delivering", StatusShipping},
		{"on_the_way", StatusShipping},
		{"On-The-Way", StatusShipping},
		{"picked_up", StatusShipping},
		{"completed", StatusDelivered},
		{"done", StatusDelivered},
		{"success", StatusDelivered},
		{"cancelled", StatusCanceled},
		{"failed", StatusCanceled},
		{"rejected", StatusCanceled},
		{"  ready  ", StatusReady},
		{"teleported", StatusUnknown},
		{"", StatusUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			if got := Normalize(tc.raw); got != tc.want {
				t.Fatalf("Normalize(%q) = %s, want %s", tc.raw, got, tc.want)
			}
		})
	}
}

func TestStatusUnmarshalNormalizes(t *testing.T) {
	var payload struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal([]byte(`{"status":"on_the_way"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Status != StatusShipping {
		t.Fatalf("expected SHIPPING, got %s", payload.Status)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StatusPending, StatusConfirmed) {
		t.Fatal("expected pending -> confirmed to be allowed")
	}
	if !CanTransition(StatusReady, StatusShipping) {
		t.Fatal("expected ready -> shipping to be allowed")
	}
	if !CanTransition(StatusShipping, StatusDelivered) {
		t.Fatal("expected shipping -> delivered to be allowed")
	}
	if CanTransition(StatusPending, StatusReady) {
		t.Fatal("unexpected out-of-order transition allowed")
	}
	if CanTransition(StatusCooking, StatusCanceled) {
		t.Fatal("cooking -> canceled must go through approval")
	}
	if CanTransition(StatusDelivered, StatusCanceled) {
		t.Fatal("terminal state must not transition")
	}
	if CanTransition(StatusUnknown, StatusUnknown) {
		t.Fatal("unknown status must not be eligible for transitions")
	}
	if !CanTransition(StatusCooking, StatusCooking) {
		t.Fatal("same-state transition is a no-op and should be allowed")
	}
}

func TestPathFor(t *testing.T) {
	cases := map[Status]CancelPath{
		StatusPending:   CancelSelfService,
		StatusConfirmed: CancelSelfService,
		StatusCooking:   CancelByRequest,
		StatusReady:     CancelByRequest,
		StatusShipping:  CancelByRequest,
		StatusDelivered: CancelNone,
		StatusCanceled:  CancelNone,
		StatusUnknown:   CancelNone,
	}
	for status, want := range cases {
		if got := PathFor(status); got != want {
			t.Fatalf("PathFor(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestNextFollowsHappyPath(t *testing.T) {
	s := StatusPending
	var seen []Status
	for {
		seen = append(seen, s)
		next, ok := Next(s)
		if !ok {
			break
		}
		if !CanTransition(s, next) {
			t.Fatalf("Next(%s) = %s is not an allowed transition", s, next)
		}
		s = next
	}
	if len(seen) != 6 || seen[len(seen)-1] != StatusDelivered {
		t.Fatalf("unexpected happy path %v", seen)
	}
}
