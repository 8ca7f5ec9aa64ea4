package models

// CaptureRequest represents the request payload for capturing a page bundle
type CaptureRequest struct {
	URL         string `json:"url" validate:"required,url"`
	Name        string `json:"name,omitempty" validate:"omitempty,max=100"`
	Screenshot  bool   `json:"screenshot,omitempty"`
	SkipCaptcha bool   `json:"skip_captcha,omitempty"`
}

// SolveCaptchaRequest asks the configured solver for a token without a browser session
type SolveCaptchaRequest struct {
	WebsiteURL string `json:"website_url" validate:"required,url"`
	WebsiteKey string `json:"website_key" validate:"required"`
	Type       string `json:"type" validate:"required,oneof=recaptcha hcaptcha turnstile"`
}

// DetectCaptchaRequest runs challenge detection on caller-supplied markup
type DetectCaptchaRequest struct {
	HTML string `json:"html" validate:"required"`
	URL  string `json:"url" validate:"omitempty,url"`
}

// VerifyProxyRequest checks the exit IP of one endpoint; an empty proxy uses the rotator
type VerifyProxyRequest struct {
	Proxy string `json:"proxy,omitempty"`
}
