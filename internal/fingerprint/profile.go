package fingerprint

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// WebRTCMode controls how much of the local network WebRTC may expose
type WebRTCMode string

const (
	WebRTCDisabled WebRTCMode = "disabled"
	WebRTCMasked   WebRTCMode = "masked"
	WebRTCReal     WebRTCMode = "real"
)

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AudioParams perturbs AudioContext readouts
type AudioParams struct {
	NoiseMagnitude float64 `json:"noise_magnitude"`
	SampleRate     int     `json:"sample_rate"`
}

// Profile is one coherent browser identity. It is created per session and
// treated as immutable once generated.
type Profile struct {
	UserAgent           string      `json:"user_agent"`
	Platform            string      `json:"platform"`
	Locale              string      `json:"locale"`
	AcceptLanguage      string      `json:"accept_language"`
	Languages           []string    `json:"languages"`
	TimezoneID          string      `json:"timezone_id"`
	Viewport            Viewport    `json:"viewport"`
	DeviceScaleFactor   float64     `json:"device_scale_factor"`
	ColorScheme         string      `json:"color_scheme"`
	ReducedMotion       bool        `json:"reduced_motion"`
	HasTouch            bool        `json:"has_touch"`
	Fonts               []string    `json:"fonts"`
	CanvasNoiseSeed     uint32      `json:"canvas_noise_seed"`
	Audio               AudioParams `json:"audio"`
	WebRTC              WebRTCMode  `json:"webrtc"`
	WebGLVendor         string      `json:"webgl_vendor"`
	WebGLRenderer       string      `json:"webgl_renderer"`
	HardwareConcurrency int         `json:"hardware_concurrency"`
	DeviceMemory        int         `json:"device_memory"`

	// Set only for profiles persisted by a domain store
	Domain    string    `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate shared slices
func (p Profile) Clone() Profile {
	p.Languages = slices.Clone(p.Languages)
	p.Fonts = slices.Clone(p.Fonts)
	return p
}

// Signals maps each spoofed signal name to the value presented to pages
func (p Profile) Signals() map[string]string {
	return map[string]string{
		"user_agent":           p.UserAgent,
		"platform":             p.Platform,
		"locale":               p.Locale,
		"languages":            strings.Join(p.Languages, ","),
		"timezone":             p.TimezoneID,
		"viewport":             fmt.Sprintf("%dx%d", p.Viewport.Width, p.Viewport.Height),
		"device_scale_factor":  strconv.FormatFloat(p.DeviceScaleFactor, 'f', -1, 64),
		"color_scheme":         p.ColorScheme,
		"reduced_motion":       strconv.FormatBool(p.ReducedMotion),
		"has_touch":            strconv.FormatBool(p.HasTouch),
		"fonts":                strings.Join(p.Fonts, ","),
		"canvas_noise_seed":    strconv.FormatUint(uint64(p.CanvasNoiseSeed), 10),
		"audio_noise":          strconv.FormatFloat(p.Audio.NoiseMagnitude, 'g', -1, 64),
		"audio_sample_rate":    strconv.Itoa(p.Audio.SampleRate),
		"webrtc":               string(p.WebRTC),
		"webgl_vendor":         p.WebGLVendor,
		"webgl_renderer":       p.WebGLRenderer,
		"hardware_concurrency": strconv.Itoa(p.HardwareConcurrency),
		"device_memory":        strconv.Itoa(p.DeviceMemory),
	}
}

// MaxTouchPoints is the navigator.maxTouchPoints value implied by HasTouch
func (p Profile) MaxTouchPoints() int {
	if p.HasTouch {
		return 5
	}
	return 0
}
