package pagesaver

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/pkg/utils"
)

const maxCSSDepth = 3

var (
	cssURLPattern    = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)
	cssImportPattern = regexp.MustCompile(`@import\s+['"]([^'"]+)['"]`)
)

// refKind says how a resource is consumed, which fixes its local extension
type refKind int

const (
	refOther refKind = iota
	refStylesheet
	refScript
)

// kindOf treats references ending in .css as stylesheets
func kindOf(ref string, kind refKind) refKind {
	if kind == refOther && strings.EqualFold(path.Ext(strings.SplitN(ref, "?", 2)[0]), ".css") {
		return refStylesheet
	}
	return kind
}

type htmlRef struct {
	selector string
	attr     string
	kind     refKind
}

var htmlRefs = []htmlRef{
	{`link[rel~="stylesheet"][href]`, "href", refStylesheet},
	{`link[rel~="icon"][href]`, "href", refOther},
	{`link[rel="apple-touch-icon"][href]`, "href", refOther},
	{`link[rel="preload"][href], link[rel="modulepreload"][href]`, "href", refOther},
	{"script[src]", "src", refScript},
	{"img[src]", "src", refOther},
	{`input[type="image"][src]`, "src", refOther},
	{"source[src], video[src], audio[src], track[src], embed[src]", "src", refOther},
	{"video[poster]", "poster", refOther},
}

// Saver writes self-contained page bundles below a directory
type Saver struct {
	cfg      config.CaptureConfig
	limiter  *rate.Limiter
	uploader Uploader
	logger   types.Logger
}

// New creates a Saver. uploader may be nil.
func New(cfg config.CaptureConfig, uploader Uploader) *Saver {
	if cfg.Dir == "" {
		cfg.Dir = "saved_pages"
	}
	limit := rate.Inf
	if cfg.FetchRate > 0 {
		limit = rate.Limit(cfg.FetchRate)
	}
	return &Saver{
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		uploader: uploader,
		logger:   logging.GetGlobalLogger().WithField("component", "pagesaver"),
	}
}

// Dir returns the directory bundles are written to
func (s *Saver) Dir() string { return s.cfg.Dir }

// Capture saves the document loaded in src as <dir>/<name>.html with its
// subresources below <dir>/<name>_files/. An empty name falls back to the
// document title. Resources that cannot be fetched keep their live URL.
func (s *Saver) Capture(ctx context.Context, src Source, name string) (*Bundle, error) {
	start := time.Now()

	pageURL, err := src.URL(ctx)
	if err != nil {
		return nil, utils.NewIOError("read page url", err)
	}
	html, err := src.HTML(ctx)
	if err != nil {
		return nil, utils.NewIOError("read page html", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, utils.NewValidationError(fmt.Sprintf("invalid page url %q", pageURL))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, utils.NewIOError("parse page html", err)
	}
	if baseEl := doc.Find("base[href]").First(); baseEl.Length() > 0 {
		href, _ := baseEl.Attr("href")
		if resolved, err := base.Parse(href); err == nil {
			base = resolved
		}
		doc.Find("base").Remove()
	}

	name = SanitizeName(name)
	if name == "" {
		name = SanitizeName(doc.Find("title").First().Text())
	}
	if name == "" {
		name = defaultName
	}

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return nil, utils.NewIOError("create bundle directory", err)
	}

	bundle := &Bundle{
		Name:      name,
		SourceURL: pageURL,
		Dir:       s.cfg.Dir,
		Root:      filepath.Join(s.cfg.Dir, name+".html"),
		Resources: make(map[string]string),
		CreatedAt: start,
	}
	c := &capture{
		saver:    s,
		src:      src,
		bundle:   bundle,
		prefix:   url.PathEscape(name + "_files"),
		filesDir: filepath.Join(s.cfg.Dir, name+"_files"),
		saved:    make(map[string]string),
		failed:   make(map[string]bool),
		names:    make(map[string]bool),
	}

	c.walk(ctx, doc, base)
	if c.err != nil {
		return nil, c.err
	}

	out, err := doc.Html()
	if err != nil {
		return nil, utils.NewIOError("render page html", err)
	}
	if err := c.write(bundle.Root, []byte(out)); err != nil {
		return nil, err
	}

	if s.cfg.Markdown {
		converter := md.NewConverter(base.Host, true, nil)
		markdown, err := converter.ConvertString(html)
		if err != nil {
			s.logger.Warn("Markdown conversion failed", map[string]interface{}{
				"url":   pageURL,
				"error": err.Error(),
			})
		} else {
			bundle.Markdown = filepath.Join(s.cfg.Dir, name+".md")
			if err := c.write(bundle.Markdown, []byte(markdown)); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Info("Page bundle written", map[string]interface{}{
		"url":       pageURL,
		"root":      bundle.Root,
		"resources": len(bundle.Resources),
		"skipped":   len(bundle.Skipped),
		"bytes":     bundle.Bytes,
		"duration":  utils.FormatDuration(time.Since(start)),
	})

	if s.uploader != nil && s.cfg.Upload {
		remote, err := s.uploader.UploadBundle(ctx, bundle)
		if err != nil {
			s.logger.Warn("Bundle upload failed", map[string]interface{}{
				"root":  bundle.Root,
				"error": err.Error(),
			})
		} else {
			bundle.RemoteURL = remote
		}
	}

	return bundle, nil
}

type capture struct {
	saver    *Saver
	src      Source
	bundle   *Bundle
	prefix   string
	filesDir string
	saved    map[string]string
	failed   map[string]bool
	names    map[string]bool
	err      error
}

func (c *capture) walk(ctx context.Context, doc *goquery.Document, base *url.URL) {
	for _, ref := range htmlRefs {
		doc.Find(ref.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			value, _ := sel.Attr(ref.attr)
			if local, ok := c.localize(ctx, base, value, false, kindOf(value, ref.kind), 0); ok {
				sel.SetAttr(ref.attr, local)
				// file:// documents cannot satisfy CORS or SRI checks
				sel.RemoveAttr("integrity")
				sel.RemoveAttr("crossorigin")
			}
			return c.err == nil
		})
		if c.err != nil {
			return
		}
	}

	doc.Find("img[srcset], source[srcset]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		value, _ := sel.Attr("srcset")
		sel.SetAttr("srcset", c.rewriteSrcset(ctx, base, value))
		return c.err == nil
	})
	if c.err != nil {
		return
	}

	doc.Find("style").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		sel.SetText(c.rewriteCSS(ctx, base, sel.Text(), false, 0))
		return c.err == nil
	})
	if c.err != nil {
		return
	}

	doc.Find(`[style*="url("]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		value, _ := sel.Attr("style")
		sel.SetAttr("style", c.rewriteCSS(ctx, base, value, false, 0))
		return c.err == nil
	})
}

func (c *capture) rewriteSrcset(ctx context.Context, base *url.URL, srcset string) string {
	candidates := parseSrcset(srcset)
	out := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		if local, ok := c.localize(ctx, base, cand.url, false, refOther, 0); ok {
			cand.url = local
		}
		if cand.descriptor != "" {
			out = append(out, cand.url+" "+cand.descriptor)
		} else {
			out = append(out, cand.url)
		}
	}
	return strings.Join(out, ", ")
}

type srcsetCandidate struct {
	url        string
	descriptor string
}

// parseSrcset splits a srcset attribute the way browsers do: a candidate URL
// runs to the next whitespace, so commas inside it are kept, and its
// descriptors run to the next comma outside parentheses.
func parseSrcset(srcset string) []srcsetCandidate {
	isSpace := func(b byte) bool {
		return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
	}

	var out []srcsetCandidate
	i := 0
	for i < len(srcset) {
		for i < len(srcset) && (isSpace(srcset[i]) || srcset[i] == ',') {
			i++
		}
		if i >= len(srcset) {
			break
		}

		start := i
		for i < len(srcset) && !isSpace(srcset[i]) {
			i++
		}
		u := srcset[start:i]
		if trimmed := strings.TrimRight(u, ","); trimmed != u {
			out = append(out, srcsetCandidate{url: trimmed})
			continue
		}

		start = i
		depth := 0
		for i < len(srcset) {
			ch := srcset[i]
			if ch == '(' {
				depth++
			} else if ch == ')' && depth > 0 {
				depth--
			} else if ch == ',' && depth == 0 {
				break
			}
			i++
		}
		out = append(out, srcsetCandidate{
			url:        u,
			descriptor: strings.Join(strings.Fields(srcset[start:i]), " "),
		})
	}
	return out
}

// rewriteCSS localizes url() and @import references in css. inFiles is set
// for stylesheets stored inside the resource directory.
func (c *capture) rewriteCSS(ctx context.Context, base *url.URL, css string, inFiles bool, depth int) string {
	if depth > maxCSSDepth {
		return css
	}
	css = cssImportPattern.ReplaceAllStringFunc(css, func(m string) string {
		ref := cssImportPattern.FindStringSubmatch(m)[1]
		if local, ok := c.localize(ctx, base, ref, inFiles, refStylesheet, depth+1); ok {
			return strings.Replace(m, ref, local, 1)
		}
		return m
	})
	return cssURLPattern.ReplaceAllStringFunc(css, func(m string) string {
		ref := cssURLPattern.FindStringSubmatch(m)[1]
		if local, ok := c.localize(ctx, base, ref, inFiles, kindOf(ref, refOther), depth+1); ok {
			return fmt.Sprintf("url(%q)", local)
		}
		return m
	})
}

// localize fetches ref and returns the path that replaces it in the referencing document
func (c *capture) localize(ctx context.Context, base *url.URL, ref string, inFiles bool, kind refKind, depth int) (string, bool) {
	if c.err != nil {
		return "", false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return "", false
	}

	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", false
	}
	u, err := base.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	fragment := u.Fragment
	u.Fragment = ""
	abs := u.String()

	file, ok := c.saved[abs]
	if !ok {
		if c.failed[abs] {
			return "", false
		}
		data, err := c.fetch(ctx, abs)
		if err != nil {
			c.failed[abs] = true
			c.bundle.Skipped = append(c.bundle.Skipped, abs)
			c.saver.logger.Warn("Skipping resource", map[string]interface{}{
				"url":   abs,
				"error": err.Error(),
			})
			return "", false
		}

		file = c.fileName(u, data, kind)
		c.saved[abs] = file
		c.bundle.Resources[abs] = filepath.ToSlash(filepath.Join(c.bundle.Name+"_files", file))

		if kind == refStylesheet || strings.EqualFold(path.Ext(file), ".css") {
			data = []byte(c.rewriteCSS(ctx, u, string(data), true, depth))
		}
		if err := os.MkdirAll(c.filesDir, 0o755); err != nil {
			c.err = utils.NewIOError("create resource directory", err)
			return "", false
		}
		c.bundle.ResourceDir = c.filesDir
		if err := c.write(filepath.Join(c.filesDir, file), data); err != nil {
			c.err = err
			return "", false
		}
	}

	local := url.PathEscape(file)
	if !inFiles {
		local = c.prefix + "/" + local
	}
	if fragment != "" {
		local += "#" + fragment
	}
	return local, true
}

func (c *capture) fetch(ctx context.Context, abs string) ([]byte, error) {
	if err := c.saver.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.saver.cfg.ResourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.saver.cfg.ResourceTimeout)
		defer cancel()
	}
	data, err := c.src.Resource(ctx, abs)
	if err != nil {
		return nil, err
	}
	if limit := c.saver.cfg.MaxResourceSize; limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("resource is %d bytes, limit is %d", len(data), limit)
	}
	return data, nil
}

// fileName picks a unique local name. Stylesheets and scripts always get
// .css and .js since file:// pages type them by extension; other resources
// sniff an extension when the URL has none.
func (c *capture) fileName(u *url.URL, data []byte, kind refKind) string {
	base := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	base = SanitizeName(base)
	if base == "" || base == "/" {
		base = "resource"
	}
	ext := path.Ext(base)
	switch {
	case kind == refStylesheet && !strings.EqualFold(ext, ".css"):
		base += ".css"
		ext = ".css"
	case kind == refScript && !strings.EqualFold(ext, ".js") && !strings.EqualFold(ext, ".mjs"):
		base += ".js"
		ext = ".js"
	case ext == "" || len(ext) > 6:
		if sniffed := mimetype.Detect(data).Extension(); sniffed != "" {
			base += sniffed
			ext = sniffed
		}
	}

	stem := strings.TrimSuffix(base, ext)
	candidate := base
	for i := 1; c.names[candidate]; i++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
	c.names[candidate] = true
	return candidate
}

func (c *capture) write(target string, data []byte) error {
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return utils.NewIOError("write "+target, err)
	}
	c.bundle.Bytes += int64(len(data))
	return nil
}
