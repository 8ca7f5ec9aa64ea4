package browser

// autoScrollJS scrolls 100px every 100ms to the bottom to trigger lazy loading, then returns to the top
const autoScrollJS = `async () => {
	await new Promise((resolve) => {
		let scrolled = 0;
		const step = 100;
		const timer = setInterval(() => {
			const height = document.body ? document.body.scrollHeight : 0;
			window.scrollBy(0, step);
			scrolled += step;
			if (scrolled >= height - window.innerHeight || scrolled > 50000) {
				clearInterval(timer);
				resolve();
			}
		}, 100);
	});
	window.scrollTo(0, 0);
}`

// headlessProbeJS collects the signals commonly used to flag headless browsers
const headlessProbeJS = `() => ({
	webdriver: navigator.webdriver === true,
	no_plugins: !navigator.plugins || navigator.plugins.length === 0,
	no_languages: !navigator.languages || navigator.languages.length === 0,
	missing_chrome: /Chrome/.test(navigator.userAgent) && !window.chrome,
	headless_user_agent: /HeadlessChrome/.test(navigator.userAgent),
	zero_outer_size: window.outerWidth === 0 || window.outerHeight === 0,
	notifications_denied: typeof Notification !== 'undefined' && Notification.permission === 'denied',
})`

// submitSolutionJS writes the token into the response fields for the
// challenge kind, then fires the widget callback or submits the enclosing form
const submitSolutionJS = `(token, kind) => {
	const names = {
		recaptcha: ['g-recaptcha-response'],
		hcaptcha: ['h-captcha-response', 'g-recaptcha-response'],
		turnstile: ['cf-turnstile-response'],
	}[kind] || ['g-recaptcha-response'];
	const widget = document.querySelector('[data-sitekey]');
	let injected = 0;
	for (const name of names) {
		let fields = Array.from(document.querySelectorAll('[name="' + name + '"], #' + name));
		if (fields.length === 0 && widget) {
			const input = document.createElement(kind === 'turnstile' ? 'input' : 'textarea');
			if (kind === 'turnstile') {
				input.type = 'hidden';
			} else {
				input.style.display = 'none';
			}
			input.name = name;
			widget.appendChild(input);
			fields = [input];
		}
		for (const field of fields) {
			field.value = token;
			field.innerHTML = token;
			injected++;
		}
	}
	if (injected === 0) {
		return { injected: 0, submitted: '' };
	}
	const callback = widget && widget.getAttribute('data-callback');
	if (callback && typeof window[callback] === 'function') {
		window[callback](token);
		return { injected: injected, submitted: 'callback' };
	}
	const form = (widget && widget.closest('form')) || document.querySelector('form');
	if (form) {
		HTMLFormElement.prototype.submit.call(form);
		return { injected: injected, submitted: 'form' };
	}
	return { injected: injected, submitted: '' };
}`

// fetchResourceJS downloads url with the page's cookies and returns it base64 encoded
const fetchResourceJS = `async (url) => {
	const res = await fetch(url, { credentials: 'include' });
	if (!res.ok) {
		throw new Error('HTTP ' + res.status);
	}
	const bytes = new Uint8Array(await res.arrayBuffer());
	let binary = '';
	for (let i = 0; i < bytes.length; i += 0x8000) {
		binary += String.fromCharCode.apply(null, bytes.subarray(i, i + 0x8000));
	}
	return btoa(binary);
}`
