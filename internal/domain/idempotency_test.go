package domain

import "testing"

func TestIdempotencyStatus_Valid(t *testing.T) {
	for _, status := range []IdempotencyStatus{IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed} {
		if !status.Valid() {
			t.Errorf("%q must be valid", status)
		}
	}
	for _, status := range []IdempotencyStatus{"", "DONE", "expired"} {
		if status.Valid() {
			t.Errorf("%q must be rejected", status)
		}
	}
}
