package contact

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"qrverify/internal/verification/fetch"
	dErrors "qrverify/pkg/domain-errors"
)

const profilePage = `<html><body>
<div class="card"><h1 class="title">Jane Doe</h1>
<a href="tel:+1 555-123-4567">Call</a>
<a href="mailto:jane@example.com">jane@example.com</a>
</div></body></html>`

type ResolverSuite struct {
	suite.Suite
	server    *httptest.Server
	body      string
	status    int
	userAgent string
	hits      int
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.body = profilePage
	s.status = http.StatusOK
	s.userAgent = ""
	s.hits = 0
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits++
		s.userAgent = r.Header.Get("User-Agent")
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(s.body))
	}))
}

func (s *ResolverSuite) TearDownTest() {
	s.server.Close()
}

func (s *ResolverSuite) resolver() *QR1Resolver {
	f := fetch.New(
		fetch.WithMaxRetries(2),
		fetch.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	return NewQR1Resolver(f)
}

func (s *ResolverSuite) TestResolvesFullRecord() {
	rec, err := s.resolver().Resolve(context.Background(), s.server.URL+"/ABCD")

	s.Require().NoError(err)
	s.Equal(&Record{Name: "Jane Doe", Phone: "15551234567", Email: "jane@example.com"}, rec)
	s.Equal(DefaultUserAgent, s.userAgent)
}

func (s *ResolverSuite) TestCustomUserAgent() {
	f := fetch.New(fetch.WithSleep(func(context.Context, time.Duration) error { return nil }))
	_, err := NewQR1Resolver(f, WithUserAgent("Mozilla/5.0 custom")).Resolve(context.Background(), s.server.URL)

	s.Require().NoError(err)
	s.Equal("Mozilla/5.0 custom", s.userAgent)
}

func (s *ResolverSuite) TestMissingEmailIsContactNotFound() {
	s.body = `<h1>Only A Name</h1><p>Phone: 555 123 4567</p>`

	rec, err := s.resolver().Resolve(context.Background(), s.server.URL)

	s.Nil(rec)
	s.True(errors.Is(err, ErrContactNotFound))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ResolverSuite) TestFetchExhaustionPropagates() {
	s.status = http.StatusBadGateway

	_, err := s.resolver().Resolve(context.Background(), s.server.URL)

	s.True(errors.Is(err, fetch.ErrExhausted))
	s.False(errors.Is(err, ErrContactNotFound))
	s.Equal(2, s.hits)
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Record
	}{
		{
			name: "email only",
			html: `<p>reach me: someone+tag@mail.example.org</p>`,
			want: Record{Email: "someone+tag@mail.example.org"},
		},
		{
			name: "name from strong tag",
			html: `<strong> Bob Smith </strong> bob@x.io`,
			want: Record{Name: "Bob Smith", Email: "bob@x.io"},
		},
		{
			name: "phone label with separators",
			html: `Phone: 012-345-6789 a@b.co`,
			want: Record{Phone: "0123456789", Email: "a@b.co"},
		},
		{
			name: "short phone ignored",
			html: `phone: 12345 a@b.co`,
			want: Record{Email: "a@b.co"},
		},
		{
			name: "nothing",
			html: `<html></html>`,
			want: Record{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.html))
		})
	}
}
