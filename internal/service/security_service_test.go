package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

// Validation rejects bad input before the pipeline runs, so a service with
// no backing stores is enough to exercise it.
func validationOnlyService() *SecurityService {
	return &SecurityService{}
}

func TestProcessEventValidation(t *testing.T) {
	svc := validationOnlyService()
	ctx := context.Background()

	tests := []struct {
		name string
		req  *IngestRequest
	}{
		{"nil request", nil},
		{"unknown event type", &IngestRequest{EventType: "totally_made_up", UserID: "u1"}},
		{"empty event type", &IngestRequest{UserID: "u1"}},
		{"unknown severity", &IngestRequest{EventType: "login_success", Severity: "catastrophic", UserID: "u1"}},
		{"no identity", &IngestRequest{EventType: "login_success"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ProcessEvent(ctx, tt.req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestGetRecentEventsRequiresUserID(t *testing.T) {
	svc := validationOnlyService()
	if _, err := svc.GetRecentEvents(context.Background(), "", time.Time{}, 10); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
