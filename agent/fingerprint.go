package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint is a coarse snapshot of client attributes. It travels as event
// metadata only and is never used as the primary visitor key.
type Fingerprint struct {
	UserAgent        string `json:"userAgent"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
	ScreenWidth      int    `json:"screenWidth"`
	ScreenHeight     int    `json:"screenHeight"`
	ScreenColorDepth int    `json:"screenColorDepth"`
	Timezone         string `json:"timezone"`
	TimezoneOffset   int    `json:"timezoneOffset"`
	CookiesEnabled   bool   `json:"cookiesEnabled"`
	DoNotTrack       bool   `json:"doNotTrack"`
	CanvasHash       string `json:"canvasHash"`
}

// Hash returns a stable hex digest over the snapshot attributes.
func (fp Fingerprint) Hash() string {
	material := fmt.Sprintf("%s|%s|%s|%dx%dx%d|%s|%d|%t|%t|%s",
		fp.UserAgent, fp.Language, fp.Platform,
		fp.ScreenWidth, fp.ScreenHeight, fp.ScreenColorDepth,
		fp.Timezone, fp.TimezoneOffset,
		fp.CookiesEnabled, fp.DoNotTrack, fp.CanvasHash)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
