package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the error primitives every pipeline stage reports through.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotMember, Message: "email not in directory"}
		s.Equal("email not in directory", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeInvalidPayload}
		s.Equal("invalid_payload", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	s.Run("returns wrapped error", func() {
		inner := errors.New("connection reset by peer")
		err := &Error{Code: CodeUnavailable, Message: "directory down", Err: inner}
		s.Equal(inner, err.Unwrap())
	})

	s.Run("returns nil when no wrapped error", func() {
		err := &Error{Code: CodeNotFound, Message: "no email"}
		s.Nil(err.Unwrap())
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err1 := &Error{Code: CodeConflict, Message: "user 1 busy"}
		err2 := &Error{Code: CodeConflict, Message: "user 2 busy"}
		s.True(err1.Is(err2))
	})

	s.Run("does not match different codes", func() {
		s.False((&Error{Code: CodeConflict}).Is(&Error{Code: CodeRateLimited}))
	})

	s.Run("does not match non-domain errors", func() {
		s.False((&Error{Code: CodeNotFound}).Is(errors.New("not_found")))
	})

	s.Run("works with errors.Is through fmt wrapping", func() {
		inner := New(CodeUnavailable, "directory down")
		wrapped := fmt.Errorf("verify membership: %w", inner)
		s.True(errors.Is(wrapped, &Error{Code: CodeUnavailable}))
	})
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("preserves original domain code when wrapping domain error", func() {
		original := New(CodeNotMember, "no membership id")
		wrapped := Wrap(original, CodeInternal, "verification failed")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeNotMember, domainErr.Code)
		s.Equal("verification failed", domainErr.Message)
	})

	s.Run("uses provided code when wrapping non-domain error", func() {
		wrapped := Wrap(errors.New("dial tcp: timeout"), CodeUnavailable, "directory unavailable")
		s.True(HasCode(wrapped, CodeUnavailable))
	})
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Equal(CodeInvalidPayload, CodeOf(fmt.Errorf("decode: %w", New(CodeInvalidPayload, "bad host"))))
	s.Equal(CodeInternal, CodeOf(errors.New("plain")))
	s.Equal(CodeInternal, CodeOf(nil))
	s.False(HasCode(nil, CodeNotFound))
}
