package controller

import (
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Validation-layer tests run against a controller with no database: every
// request below must be rejected before any persistence is touched.
func newValidationApp() *fiber.App {
	app := fiber.New()
	tc := NewTrackController(nil, nil, nil, nil)
	app.Post("/track", tc.HandleTrack)
	return app
}

func TestTrackRejectsMalformedBody(t *testing.T) {
	app := newValidationApp()

	req := httptest.NewRequest("POST", "/track", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestTrackRejectsMissingRequiredFields(t *testing.T) {
	app := newValidationApp()

	tests := []string{
		`{}`,
		`{"pixelIds":[],"visitorId":"v1","eventType":"pageview"}`,
		`{"pixelIds":["px"],"eventType":"pageview"}`,
		`{"pixelIds":["px"],"visitorId":"v1"}`,
	}
	for _, body := range tests {
		req := httptest.NewRequest("POST", "/track", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "body: %s", body)
	}
}

func TestTrackRejectsUnknownEventType(t *testing.T) {
	app := newValidationApp()

	body := `{"pixelIds":["px"],"visitorId":"v1","eventType":"teleport"}`
	req := httptest.NewRequest("POST", "/track", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

// sendBeacon ships the JSON payload with a text/plain content type; parsing
// must not depend on the header.
func TestParseTrackInputAcceptsTextPlain(t *testing.T) {
	app := fiber.New()
	var parsed *trackInput
	app.Post("/probe", func(c *fiber.Ctx) error {
		input, err := parseTrackInput(c)
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		parsed = input
		return c.SendStatus(fiber.StatusOK)
	})

	body := `{"pixelIds":["px_a"],"visitorId":"v1","sessionId":"s1","eventType":"pageview"}`
	req := httptest.NewRequest("POST", "/probe", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NotNil(t, parsed)
	assert.Equal(t, []string{"px_a"}, parsed.PixelIDs)
	assert.Equal(t, "v1", parsed.VisitorID)
	assert.Equal(t, "pageview", parsed.EventType)
}

func TestDecodeBeaconPayload(t *testing.T) {
	payload := []byte(`{"pixelIds":["px~?"],"eventType":"pageview"}`)

	tests := []struct {
		name    string
		encoded string
	}{
		{"standard alphabet", base64.StdEncoding.EncodeToString(payload)},
		{"url-safe alphabet", base64.URLEncoding.EncodeToString(payload)},
		{"raw standard", base64.RawStdEncoding.EncodeToString(payload)},
		{"raw url-safe", base64.RawURLEncoding.EncodeToString(payload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := decodeBeaconPayload(tt.encoded)
			require.NoError(t, err)
			assert.Equal(t, payload, raw)
		})
	}

	// Query-string decoding turns '+' into a space before the handler sees
	// the value.
	t.Run("plus decoded to space", func(t *testing.T) {
		data := []byte{0xfb, 0xef, 0xbe, 0x00, 0x10}
		encoded := base64.StdEncoding.EncodeToString(data)
		require.Contains(t, encoded, "+")

		raw, err := decodeBeaconPayload(strings.ReplaceAll(encoded, "+", " "))
		require.NoError(t, err)
		assert.Equal(t, data, raw)
	})

	_, err := decodeBeaconPayload("!!!not base64!!!")
	assert.Error(t, err)
}

func TestIntFromData(t *testing.T) {
	data := map[string]interface{}{
		"timeOnPage": float64(120),
		"depth":      float64(75),
	}
	assert.Equal(t, 120, intFromData(data, "timeOnPage"))
	assert.Equal(t, 75, intFromData(data, "scrollDepth", "depth"))
	assert.Equal(t, 0, intFromData(data, "missing"))
	assert.Equal(t, 0, intFromData(nil, "timeOnPage"))
}

func TestUsableIP(t *testing.T) {
	assert.True(t, usableIP("203.0.113.9"))
	assert.True(t, usableIP("2001:db8::1"))
	assert.False(t, usableIP(""))
	assert.False(t, usableIP("127.0.0.1"))
	assert.False(t, usableIP("10.0.0.4"))
	assert.False(t, usableIP("192.168.1.1"))
	assert.False(t, usableIP("0.0.0.0"))
	assert.False(t, usableIP("not-an-ip"))
}
