package lock

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "qrverify/pkg/domain-errors"
	"qrverify/pkg/testutil"
)

type RegistrySuite struct {
	suite.Suite
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.registry = NewRegistry()
}

func (s *RegistrySuite) TestSecondAcquireIsRejected() {
	lease, err := s.registry.Acquire("user-1")
	s.Require().NoError(err)
	defer lease.Release()

	_, err = s.registry.Acquire("user-1")
	s.True(errors.Is(err, ErrAlreadyInProgress))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *RegistrySuite) TestDifferentUsersDoNotContend() {
	a, err := s.registry.Acquire("user-a")
	s.Require().NoError(err)
	b, err := s.registry.Acquire("user-b")
	s.Require().NoError(err)

	s.Equal(2, s.registry.Len())
	a.Release()
	b.Release()
	s.Equal(0, s.registry.Len())
}

func (s *RegistrySuite) TestReleaseAllowsReacquire() {
	lease, err := s.registry.Acquire("user-1")
	s.Require().NoError(err)
	s.True(s.registry.Held("user-1"))

	lease.Release()
	s.False(s.registry.Held("user-1"))

	again, err := s.registry.Acquire("user-1")
	s.Require().NoError(err)
	again.Release()
}

func (s *RegistrySuite) TestStaleReleaseKeepsNewerLease() {
	first, err := s.registry.Acquire("user-1")
	s.Require().NoError(err)
	first.Release()

	second, err := s.registry.Acquire("user-1")
	s.Require().NoError(err)
	s.NotEqual(first.Token, second.Token)

	first.Release()
	s.True(s.registry.Held("user-1"))

	second.Release()
	s.False(s.registry.Held("user-1"))
}

func (s *RegistrySuite) TestNilLeaseReleaseIsSafe() {
	var lease *Lease
	s.NotPanics(lease.Release)
}

func (s *RegistrySuite) TestConcurrentAcquireSameUser() {
	leases := make(chan *Lease, 50)

	result := testutil.RunConcurrent(50, func(int) error {
		lease, err := s.registry.Acquire("user-1")
		if err != nil {
			return err
		}
		leases <- lease
		return nil
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(49), result.Conflicts)
	s.Equal(int32(0), result.Errors)

	close(leases)
	for l := range leases {
		l.Release()
	}
	s.Equal(0, s.registry.Len())
}

func (s *RegistrySuite) TestConcurrentAcquireDistinctUsers() {
	result := testutil.RunConcurrent(50, func(idx int) error {
		lease, err := s.registry.Acquire(fmt.Sprintf("user-%d", idx))
		if err != nil {
			return err
		}
		lease.Release()
		return nil
	})

	s.Equal(int32(50), result.Successes)
	s.Equal(0, s.registry.Len())
}
