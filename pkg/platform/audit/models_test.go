package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// AuditEventSuite tests the AuditEvent category mapping and fan-out.
//
// Justification: unknown events must fall back to CategoryOperations so a
// new action can never be filed as a compliance record by accident.
type AuditEventSuite struct {
	suite.Suite
}

func TestAuditEventSuite(t *testing.T) {
	suite.Run(t, new(AuditEventSuite))
}

func (s *AuditEventSuite) TestCategory_ComplianceEvents() {
	for _, event := range []AuditEvent{EventRoleGranted, EventVerificationCompleted} {
		s.Run(string(event), func() {
			s.Equal(CategoryCompliance, event.Category())
		})
	}
}

func (s *AuditEventSuite) TestCategory_SecurityEvents() {
	for _, event := range []AuditEvent{EventRoleGrantFailed, EventVerificationRejected} {
		s.Run(string(event), func() {
			s.Equal(CategorySecurity, event.Category())
		})
	}
}

func (s *AuditEventSuite) TestCategory_UnknownEventDefaultsToOperations() {
	s.Equal(CategoryOperations, EventVerificationFailed.Category())
	s.Equal(CategoryOperations, AuditEvent("unknown_event_type").Category())
	s.Equal(CategoryOperations, AuditEvent("").Category())
}

type recordingStore struct {
	events []Event
	err    error
}

func (r *recordingStore) Append(_ context.Context, e Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (s *AuditEventSuite) TestFanoutAppendsToEveryStore() {
	ok := &recordingStore{}
	failing := &recordingStore{err: errors.New("broker down")}
	fan := Fanout{ok, nil, failing}

	err := fan.Append(context.Background(), Event{UserID: "u1", Action: string(EventRoleGranted)})

	s.ErrorIs(err, failing.err)
	s.Len(ok.events, 1)
}
