// Package detail builds the product detail modal shown when a listing image
// is selected.
package detail

import (
	"bytes"
	"html"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// AddAction carries the arguments replayed into the cart when the modal's
// add button is used. PriceText is the display price; the cart strips it to digits.
type AddAction struct {
	Name      string
	ImageURL  string
	PriceText string
}

// Payload is everything the modal renders.
type Payload struct {
	Title           string
	ImageURL        string
	Description     string
	DescriptionHTML template.HTML
	PriceDisplay    string
	Add             AddAction
	Dismissible     bool
}

// Presenter renders detail payloads. It is safe for concurrent use.
type Presenter struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewPresenter constructs a Presenter with the storefront's HTML policy.
func NewPresenter() *Presenter {
	return &Presenter{
		markdown: goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		policy:   newDescriptionPolicy(),
	}
}

func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "span")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

// Present builds the payload. Empty fields render as empty strings.
func (p *Presenter) Present(name, description, imageURL, priceDisplay string) Payload {
	return Payload{
		Title:           name,
		ImageURL:        imageURL,
		Description:     description,
		DescriptionHTML: p.renderDescription(description),
		PriceDisplay:    priceDisplay,
		Add: AddAction{
			Name:      name,
			ImageURL:  imageURL,
			PriceText: priceDisplay,
		},
		Dismissible: true,
	}
}

func (p *Presenter) renderDescription(description string) template.HTML {
	if strings.TrimSpace(description) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := p.markdown.Convert([]byte(description), &buf); err != nil {
		return template.HTML("<p>" + html.EscapeString(description) + "</p>")
	}
	// #nosec G203 -- sanitised by bluemonday.
	return template.HTML(p.policy.SanitizeBytes(buf.Bytes()))
}
