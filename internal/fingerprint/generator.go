package fingerprint

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"scrapekit/pkg/utils"
)

type webGLPreset struct {
	vendor   string
	renderer string
}

type platformPreset struct {
	uaOS              string
	navigatorPlatform string
	fonts             []string
	webGL             []webGLPreset
}

var platformPresets = []platformPreset{
	{
		uaOS:              "Windows NT 10.0; Win64; x64",
		navigatorPlatform: "Win32",
		fonts: []string{
			"Arial", "Arial Black", "Calibri", "Cambria", "Candara", "Comic Sans MS",
			"Consolas", "Constantia", "Corbel", "Courier New", "Georgia", "Impact",
			"Lucida Console", "Palatino Linotype", "Segoe UI", "Tahoma",
			"Times New Roman", "Trebuchet MS", "Verdana",
		},
		webGL: []webGLPreset{
			{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1650 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		},
	},
	{
		uaOS:              "Macintosh; Intel Mac OS X 10_15_7",
		navigatorPlatform: "MacIntel",
		fonts: []string{
			"American Typewriter", "Andale Mono", "Arial", "Avenir", "Avenir Next",
			"Courier", "Courier New", "Futura", "Geneva", "Georgia", "Gill Sans",
			"Helvetica", "Helvetica Neue", "Lucida Grande", "Menlo", "Monaco",
			"Optima", "Palatino", "Times", "Times New Roman", "Verdana",
		},
		webGL: []webGLPreset{
			{"Google Inc. (Apple)", "ANGLE (Apple, Apple M1, OpenGL 4.1)"},
			{"Google Inc. (Apple)", "ANGLE (Apple, Apple M2, OpenGL 4.1)"},
			{"Google Inc. (Intel Inc.)", "ANGLE (Intel Inc., Intel Iris Plus Graphics, OpenGL 4.1)"},
		},
	},
	{
		uaOS:              "X11; Linux x86_64",
		navigatorPlatform: "Linux x86_64",
		fonts: []string{
			"DejaVu Sans", "DejaVu Sans Mono", "DejaVu Serif", "FreeMono", "FreeSans",
			"Liberation Mono", "Liberation Sans", "Liberation Serif", "Noto Sans",
			"Noto Serif", "Ubuntu", "Ubuntu Mono",
		},
		webGL: []webGLPreset{
			{"Google Inc. (Intel)", "ANGLE (Intel, Mesa Intel(R) UHD Graphics 620 (KBL GT2), OpenGL 4.6)"},
			{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon Graphics (renoir, LLVM 15.0.7, DRM 3.49), OpenGL 4.6)"},
		},
	},
}

var chromeVersions = []string{"129.0.0.0", "130.0.0.0", "131.0.0.0", "132.0.0.0", "133.0.0.0"}

var viewports = []Viewport{
	{1920, 1080},
	{1680, 1050},
	{1440, 900},
	{1366, 768},
	{1280, 800},
	{1280, 720},
}

var deviceScaleFactors = []float64{1, 1.5, 2}

var locales = []string{"en-US", "en-GB", "en-CA", "en-AU", "fr-FR", "de-DE", "es-ES", "it-IT"}

var timezones = []string{
	"America/New_York",
	"America/Los_Angeles",
	"America/Chicago",
	"Europe/London",
	"Europe/Paris",
	"Europe/Berlin",
	"Asia/Tokyo",
	"Asia/Singapore",
	"Australia/Sydney",
}

var colorSchemes = []string{"light", "dark", "no-preference"}

// masked is twice as likely as the other modes
var webRTCModes = []WebRTCMode{WebRTCMasked, WebRTCMasked, WebRTCDisabled, WebRTCReal}

var hardwareConcurrencies = []int{4, 8, 12, 16}
var deviceMemories = []int{4, 8, 16}
var sampleRates = []int{44100, 48000}

const minFonts = 6

// Generator produces fingerprint profiles. A seeded generator returns the
// same profile on every call; an unseeded one returns a fresh profile each time.
type Generator struct {
	seeded bool
	seed   uint64
}

// NewGenerator returns an unseeded generator
func NewGenerator() *Generator {
	return &Generator{}
}

// NewSeededGenerator returns a deterministic generator. Negative seeds are rejected.
func NewSeededGenerator(seed int64) (*Generator, error) {
	if seed < 0 {
		return nil, utils.NewValidationError(fmt.Sprintf("fingerprint seed must be non-negative, got %d", seed))
	}
	return &Generator{seeded: true, seed: uint64(seed)}, nil
}

// ParseSeed builds a generator from seed text; empty text means unseeded
func ParseSeed(text string) (*Generator, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return NewGenerator(), nil
	}
	seed, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, utils.NewValidationError(fmt.Sprintf("fingerprint seed %q is not an integer", text))
	}
	return NewSeededGenerator(seed)
}

// Seeded reports whether Generate is deterministic
func (g *Generator) Seeded() bool {
	return g.seeded
}

// Generate returns a new profile
func (g *Generator) Generate() Profile {
	var r *rand.Rand
	if g.seeded {
		r = rand.New(rand.NewPCG(g.seed, g.seed^0x9e3779b97f4a7c15))
	} else {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return build(r)
}

func pick[T any](r *rand.Rand, items []T) T {
	return items[r.IntN(len(items))]
}

func build(r *rand.Rand) Profile {
	plat := pick(r, platformPresets)
	gl := pick(r, plat.webGL)
	locale := pick(r, locales)

	return Profile{
		UserAgent: fmt.Sprintf(
			"Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
			plat.uaOS, pick(r, chromeVersions),
		),
		Platform:          plat.navigatorPlatform,
		Locale:            locale,
		AcceptLanguage:    acceptLanguage(locale),
		Languages:         languages(locale),
		TimezoneID:        pick(r, timezones),
		Viewport:          pick(r, viewports),
		DeviceScaleFactor: pick(r, deviceScaleFactors),
		ColorScheme:       pick(r, colorSchemes),
		ReducedMotion:     r.IntN(2) == 1,
		HasTouch:          r.IntN(4) == 0,
		Fonts:             fontSubset(r, plat.fonts),
		CanvasNoiseSeed:   r.Uint32() | 1,
		Audio: AudioParams{
			NoiseMagnitude: 0.00001 + r.Float64()*0.00009,
			SampleRate:     pick(r, sampleRates),
		},
		WebRTC:              pick(r, webRTCModes),
		WebGLVendor:         gl.vendor,
		WebGLRenderer:       gl.renderer,
		HardwareConcurrency: pick(r, hardwareConcurrencies),
		DeviceMemory:        pick(r, deviceMemories),
	}
}

// fontSubset keeps a random subset of the platform fonts in their original order
func fontSubset(r *rand.Rand, fonts []string) []string {
	keep := minFonts + r.IntN(len(fonts)-minFonts+1)
	idx := r.Perm(len(fonts))[:keep]
	selected := make([]bool, len(fonts))
	for _, i := range idx {
		selected[i] = true
	}
	out := make([]string, 0, keep)
	for i, f := range fonts {
		if selected[i] {
			out = append(out, f)
		}
	}
	return out
}

func languages(locale string) []string {
	base, _, _ := strings.Cut(locale, "-")
	if base == locale {
		return []string{locale}
	}
	return []string{locale, base}
}

func acceptLanguage(locale string) string {
	langs := languages(locale)
	if len(langs) == 1 {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", langs[0], langs[1])
}
