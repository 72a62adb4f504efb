package document

import (
	"bytes"
	"context"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/spadev/internal/config"
	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/logging"
	"github.com/conneroisu/spadev/internal/manifest"
	"github.com/conneroisu/spadev/internal/security"
)

const (
	// PublicURLPlaceholder is replaced by the site's path prefix, which
	// keeps templates written for react-scripts working unchanged.
	PublicURLPlaceholder = "%PUBLIC_URL%"

	ScriptExt     = ".js"
	StylesheetExt = ".css"
)

// ReservedDirs hold outputs that are only referenced from other outputs
// (hashed assets and split chunks) and are never injected directly.
var ReservedDirs = []string{"assets", "chunks"}

// Assembler turns a template and a build manifest into a Document.
type Assembler struct {
	site   config.Site
	policy security.Source
	logger logging.Logger
}

// NewAssembler creates an Assembler. policy is only consulted in
// production and may be nil in development.
func NewAssembler(site config.Site, policy security.Source, logger logging.Logger) *Assembler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Assembler{
		site:   site,
		policy: policy,
		logger: logger.WithComponent("document"),
	}
}

// Assemble is shorthand for NewAssembler(site, policy, nil).Assemble.
func Assemble(template []byte, files manifest.Manifest, site config.Site, policy security.Source) (Document, error) {
	return NewAssembler(site, policy, nil).Assemble(context.Background(), template, files)
}

// Assemble builds the document. The same inputs always produce the same
// bytes.
func (a *Assembler) Assemble(ctx context.Context, template []byte, files manifest.Manifest) (Document, error) {
	prefix := strings.TrimSuffix(a.site.PathPrefix, "/")

	filled := bytes.ReplaceAll(template, []byte(PublicURLPlaceholder), []byte(prefix))

	root, err := html.Parse(bytes.NewReader(filled))
	if err != nil {
		return Document{}, spaerrors.NewBuildError(spaerrors.CodeTemplateParse, "cannot parse HTML template", err)
	}
	head := findElement(root, atom.Head)
	body := findElement(root, atom.Body)
	if head == nil || body == nil {
		return Document{}, spaerrors.NewBuildError(spaerrors.CodeTemplateParse,
			"template has no head or body insertion point", nil)
	}

	candidates := Injectable(files)

	for _, f := range candidates {
		if path.Ext(f) != ScriptExt {
			continue
		}
		body.AppendChild(element(atom.Script, html.Attribute{Key: "src", Val: prefix + f}))
		a.logger.Debug(ctx, "Injected script", "src", prefix+f)
	}

	for _, f := range candidates {
		if path.Ext(f) != StylesheetExt {
			continue
		}
		body.AppendChild(element(atom.Link,
			html.Attribute{Key: "rel", Val: "stylesheet"},
			html.Attribute{Key: "href", Val: prefix + f},
		))
		a.logger.Debug(ctx, "Injected stylesheet", "href", prefix+f)
	}

	if a.site.Production {
		directive, err := a.policyDirective()
		if err != nil {
			return Document{}, err
		}
		head.AppendChild(element(atom.Meta,
			html.Attribute{Key: "http-equiv", Val: security.HTTPEquiv},
			html.Attribute{Key: "content", Val: directive},
		))
		a.logger.Info(ctx, "Added Content-Security-Policy tag")
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return Document{}, spaerrors.NewInternalError(spaerrors.CodeTemplateParse, "cannot render document", err)
	}
	return Document{b: buf.Bytes()}, nil
}

func (a *Assembler) policyDirective() (string, error) {
	if a.policy == nil {
		return "", spaerrors.NewSecurityError(spaerrors.CodePolicyUnavailable,
			"production documents require a Content-Security-Policy", nil)
	}
	directive, err := a.policy.Directive()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(directive) == "" {
		return "", spaerrors.NewSecurityError(spaerrors.CodePolicyUnavailable, "policy is empty", nil)
	}
	return directive, nil
}

// Injectable drops every file that lives under a reserved output directory.
func Injectable(files manifest.Manifest) manifest.Manifest {
	out := make(manifest.Manifest, 0, len(files))
	for _, f := range files {
		if isReserved(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isReserved(file string) bool {
	first, _, _ := strings.Cut(strings.TrimPrefix(file, "/"), "/")
	for _, dir := range ReservedDirs {
		if first == dir {
			return true
		}
	}
	return false
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     a.String(),
		DataAtom: a,
		Attr:     attrs,
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
