package coordinator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrverify/internal/verification/contact"
	"qrverify/internal/verification/fetch"
	"qrverify/internal/verification/lock"
	"qrverify/internal/verification/membership"
	"qrverify/internal/verification/qrcode"
	"qrverify/internal/verification/roles"
)

const profilePage = `<html><body>
<h1>Ada Lovelace</h1>
<a href="tel:+15550109999">Call</a>
<a href="mailto:ada@example.com">ada@example.com</a>
</body></html>`

const directoryBody = `[
	{"user_email":"someone@example.com","membership_id":null,"membership_name":null},
	{"user_email":"ADA@example.com","membership_id":"17","membership_name":"Pioneer"}
]`

// routingDoer answers by URL and counts requests.
type routingDoer struct {
	mu     sync.Mutex
	routes map[string]string
	calls  []string
}

func (d *routingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req.URL.String())
	body, ok := d.routes[req.URL.String()]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Request:    req,
	}, nil
}

func (d *routingDoer) requests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func qrPNG(t *testing.T, content string) []byte {
	t.Helper()
	matrix, err := zxingqr.NewQRCodeWriter().Encode(content, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	require.NoError(t, err)

	img := image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPipelineVerifiesPioneer(t *testing.T) {
	doer := &routingDoer{routes: map[string]string{
		profileURL:                     profilePage,
		membership.DefaultDirectoryURL: directoryBody,
	}}
	fetcher := fetch.New(
		fetch.WithHTTPClient(doer),
		fetch.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	granter := &stubGranter{}
	locks := lock.NewRegistry()
	c := New(
		qrcode.New(),
		contact.NewQR1Resolver(fetcher),
		membership.NewVerifier(fetcher),
		granter,
		WithLockRegistry(locks),
	)
	sub := Submission{
		UserID:  "42",
		Mention: "<@42>",
		Member:  roles.Member{GuildID: "guild", UserID: "42"},
		Image:   ImageAsset{Name: "qr.png", Data: qrPNG(t, profileURL)},
	}

	res := c.Verify(context.Background(), sub, nil)

	require.Equal(t, OutcomeVerified, res.Outcome, res.Message)
	assert.NoError(t, res.Err)
	assert.Equal(t, "Pioneer", res.Tier)
	assert.Equal(t, roles.RoleMEGAvoter, res.RoleName)
	require.NotNil(t, res.Contact)
	assert.Equal(t, "Ada Lovelace", res.Contact.Name)
	assert.Equal(t, "ada@example.com", res.Contact.Email)
	assert.Equal(t, []string{profileURL, membership.DefaultDirectoryURL}, doer.requests())
	assert.Equal(t, []string{"Pioneer"}, granter.calls())
	assert.False(t, locks.Held("42"))
}

func TestPipelineUnreadableImageMakesNoRequests(t *testing.T) {
	doer := &routingDoer{routes: map[string]string{}}
	fetcher := fetch.New(fetch.WithHTTPClient(doer))
	blank := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range blank.Pix {
		blank.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank))

	c := New(qrcode.New(), contact.NewQR1Resolver(fetcher), membership.NewVerifier(fetcher), &stubGranter{})
	res := c.Verify(context.Background(), Submission{UserID: "7", Mention: "<@7>", Image: ImageAsset{Data: buf.Bytes()}}, nil)

	assert.Equal(t, OutcomeDecodeFailed, res.Outcome)
	assert.Empty(t, doer.requests())
}
