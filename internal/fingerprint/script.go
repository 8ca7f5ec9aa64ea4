package fingerprint

import (
	"encoding/json"
	"strings"
)

// scriptConfig is the subset of a profile the injected script reads
type scriptConfig struct {
	Fonts               []string   `json:"fonts"`
	Languages           []string   `json:"languages"`
	Platform            string     `json:"platform"`
	NoiseSeed           uint32     `json:"noiseSeed"`
	AudioNoise          float64    `json:"audioNoise"`
	SampleRate          int        `json:"sampleRate"`
	WebRTC              WebRTCMode `json:"webrtc"`
	WebGLVendor         string     `json:"webglVendor"`
	WebGLRenderer       string     `json:"webglRenderer"`
	HardwareConcurrency int        `json:"hardwareConcurrency"`
	DeviceMemory        int        `json:"deviceMemory"`
	MaxTouchPoints      int        `json:"maxTouchPoints"`
}

// Script renders the JavaScript evaluated before any page script on every new document
func (p Profile) Script() string {
	cfg, _ := json.Marshal(scriptConfig{
		Fonts:               p.Fonts,
		Languages:           p.Languages,
		Platform:            p.Platform,
		NoiseSeed:           p.CanvasNoiseSeed,
		AudioNoise:          p.Audio.NoiseMagnitude,
		SampleRate:          p.Audio.SampleRate,
		WebRTC:              p.WebRTC,
		WebGLVendor:         p.WebGLVendor,
		WebGLRenderer:       p.WebGLRenderer,
		HardwareConcurrency: p.HardwareConcurrency,
		DeviceMemory:        p.DeviceMemory,
		MaxTouchPoints:      p.MaxTouchPoints(),
	})

	var b strings.Builder
	b.WriteString("(function(){\nconst fp = ")
	b.Write(cfg)
	b.WriteString(";\n")
	b.WriteString(preludeJS)
	for _, snippet := range snippets {
		b.WriteString("try {")
		b.WriteString(snippet)
		b.WriteString("} catch (e) {}\n")
	}
	b.WriteString("})();")
	return b.String()
}

var snippets = []string{
	navigatorJS,
	webGLJS,
	canvasJS,
	audioJS,
	fontsJS,
	webRTCJS,
}

const preludeJS = `
const define = (obj, prop, value) =>
  Object.defineProperty(obj, prop, { get: () => value, configurable: true });
`

const navigatorJS = `
define(Navigator.prototype, 'webdriver', undefined);
define(Navigator.prototype, 'languages', Object.freeze(fp.languages.slice()));
define(Navigator.prototype, 'platform', fp.platform);
define(Navigator.prototype, 'hardwareConcurrency', fp.hardwareConcurrency);
define(Navigator.prototype, 'deviceMemory', fp.deviceMemory);
define(Navigator.prototype, 'maxTouchPoints', fp.maxTouchPoints);
`

const webGLJS = `
const patchGL = (proto) => {
  if (!proto) return;
  const orig = proto.getParameter;
  proto.getParameter = function (param) {
    if (param === 37445) return fp.webglVendor;
    if (param === 37446) return fp.webglRenderer;
    return orig.call(this, param);
  };
};
patchGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
patchGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);
`

const canvasJS = `
let seed = (fp.noiseSeed >>> 0) || 1;
const next = () => {
  seed ^= seed << 13;
  seed ^= seed >> 17;
  seed ^= seed << 5;
  return seed >>> 0;
};
const noise = (canvas) => {
  const ctx = canvas.getContext('2d');
  if (!ctx || canvas.width <= 0 || canvas.height <= 0) return;
  const w = Math.min(canvas.width, 16);
  const img = ctx.getImageData(0, 0, w, 1);
  for (let i = 0; i < w * 4; i += 4) {
    img.data[i] = Math.max(0, Math.min(255, img.data[i] + (next() % 3) - 1));
  }
  ctx.putImageData(img, 0, 0);
};
const toDataURL = HTMLCanvasElement.prototype.toDataURL;
HTMLCanvasElement.prototype.toDataURL = function () {
  try { noise(this); } catch (e) {}
  return toDataURL.apply(this, arguments);
};
const toBlob = HTMLCanvasElement.prototype.toBlob;
HTMLCanvasElement.prototype.toBlob = function () {
  try { noise(this); } catch (e) {}
  return toBlob.apply(this, arguments);
};
`

const audioJS = `
let aseed = ((fp.noiseSeed >>> 0) ^ 0xDEADBEEF) || 1;
const anext = () => {
  aseed ^= aseed << 13;
  aseed ^= aseed >> 17;
  aseed ^= aseed << 5;
  return ((aseed >>> 0) / 0xFFFFFFFF - 0.5) * 2 * fp.audioNoise;
};
if (window.AudioBuffer) {
  const seen = new WeakSet();
  const getChannelData = AudioBuffer.prototype.getChannelData;
  AudioBuffer.prototype.getChannelData = function () {
    const buf = getChannelData.apply(this, arguments);
    if (!seen.has(buf)) {
      seen.add(buf);
      for (let i = 0; i < buf.length; i += 100) buf[i] += anext();
    }
    return buf;
  };
}
if (window.AnalyserNode) {
  const getFloat = AnalyserNode.prototype.getFloatFrequencyData;
  AnalyserNode.prototype.getFloatFrequencyData = function (arr) {
    getFloat.call(this, arr);
    for (let i = 0; i < arr.length; i++) arr[i] += anext();
  };
}
if (window.AudioContext) {
  define(AudioContext.prototype, 'sampleRate', fp.sampleRate);
}
`

const fontsJS = `
if (document.fonts && document.fonts.check) {
  const allowed = new Set(fp.fonts.map((f) => f.toLowerCase()));
  const generic = new Set(['serif', 'sans-serif', 'monospace', 'cursive', 'fantasy', 'system-ui']);
  const check = document.fonts.check.bind(document.fonts);
  document.fonts.check = function (font, text) {
    const family = String(font).split(/\s+/).slice(-1)[0].replace(/['"]/g, '').toLowerCase();
    const named = String(font).match(/["']([^"']+)["']/);
    const name = named ? named[1].toLowerCase() : family;
    if (!generic.has(name) && !allowed.has(name)) return false;
    return check(font, text);
  };
}
`

const webRTCJS = `
if (fp.webrtc === 'disabled') {
  for (const name of ['RTCPeerConnection', 'webkitRTCPeerConnection', 'RTCDataChannel']) {
    try { delete window[name]; } catch (e) {}
    define(window, name, undefined);
  }
} else if (fp.webrtc === 'masked' && window.RTCPeerConnection) {
  const Orig = window.RTCPeerConnection;
  const Masked = function (config, constraints) {
    if (config && config.iceServers) config = Object.assign({}, config, { iceServers: [] });
    return new Orig(config, constraints);
  };
  Masked.prototype = Orig.prototype;
  Object.defineProperty(Masked, 'name', { value: 'RTCPeerConnection' });
  window.RTCPeerConnection = Masked;
}
`
