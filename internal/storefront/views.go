package storefront

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"

	"github.com/BUIHOANGDU/nail-store/internal/detail"
	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/format"
	"github.com/BUIHOANGDU/nail-store/internal/i18n"
	"github.com/BUIHOANGDU/nail-store/internal/session"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type pageView struct {
	Lang        string
	Langs       []string
	CSRF        string
	Count       int
	Flashes     []flashView
	Highlighted []itemView
	Gallery     []itemView
	Cart        *cartView
	Detail      *detailView
}

type listingView struct {
	Lang  string
	CSRF  string
	Items []itemView
}

type itemView struct {
	Name            string
	Description     string
	ImageURL        string
	Price           int64
	PriceDisplay    string
	ShowDescription bool
	DetailURL       string
}

type cartView struct {
	Lang         string
	CSRF         string
	Flashes      []flashView
	Lines        []lineView
	Count        int
	Total        int64
	TotalDisplay string
	Empty        bool
}

type lineView struct {
	Index           int
	Name            string
	ImageURL        string
	Price           int64
	Quantity        int
	SubtotalDisplay string
}

type detailView struct {
	Lang    string
	CSRF    string
	Payload detail.Payload
}

type flashView struct {
	Tone    string
	Message string
}

// cartJSON is the body of the JSON cart endpoints.
type cartJSON struct {
	Items        []cartLineJSON `json:"items"`
	Count        int            `json:"count"`
	Total        int64          `json:"total"`
	TotalDisplay string         `json:"totalDisplay"`
	Message      string         `json:"message,omitempty"`
}

type cartLineJSON struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	ImageURL     string `json:"imageUrl"`
	Price        int64  `json:"price"`
	PriceDisplay string `json:"priceDisplay"`
	Quantity     int    `json:"quantity"`
	Subtotal     int64  `json:"subtotal"`
}

type orderJSON struct {
	RequestID    string `json:"requestId"`
	Total        int64  `json:"total"`
	TotalDisplay string `json:"totalDisplay"`
	Lines        int    `json:"lines"`
	CartCleared  bool   `json:"cartCleared"`
	Message      string `json:"message"`
}

type renderer struct {
	tmpl *template.Template
}

func newRenderer(bundle *i18n.Bundle) (*renderer, error) {
	funcs := template.FuncMap{
		"t": bundle.T,
		"listing": func(lang, csrf string, items []itemView) listingView {
			return listingView{Lang: lang, CSRF: csrf, Items: items}
		},
	}
	tmpl, err := template.New("storefront").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("storefront: parse templates: %w", err)
	}
	return &renderer{tmpl: tmpl}, nil
}

func (r *renderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

// listingItems maps catalog items for display. Descriptions are only shown for
// highlighted combos; prices only when set.
func listingItems(items []domain.CatalogItem) []itemView {
	out := make([]itemView, 0, len(items))
	for _, item := range items {
		display := ""
		if item.Price > 0 {
			display = format.Price(item.Price)
		}
		out = append(out, itemView{
			Name:            item.Name,
			Description:     item.Description,
			ImageURL:        item.ImageURL,
			Price:           item.Price,
			PriceDisplay:    display,
			ShowDescription: item.Category == domain.CategoryHighlighted && item.Description != "",
			DetailURL:       detailURL(item.Name, item.Description, item.ImageURL, display),
		})
	}
	return out
}

func detailURL(name, description, imageURL, priceDisplay string) string {
	q := url.Values{}
	q.Set("name", name)
	if description != "" {
		q.Set("desc", description)
	}
	if imageURL != "" {
		q.Set("image", imageURL)
	}
	if priceDisplay != "" {
		q.Set("price", priceDisplay)
	}
	return "/detail?" + q.Encode()
}

func buildCartView(lang, csrf string, lines []domain.CartLine, flashes []flashView) *cartView {
	view := &cartView{
		Lang:    lang,
		CSRF:    csrf,
		Flashes: flashes,
		Lines:   make([]lineView, 0, len(lines)),
		Empty:   len(lines) == 0,
	}
	for i, line := range lines {
		view.Count += line.Quantity
		view.Lines = append(view.Lines, lineView{
			Index:           i,
			Name:            line.Name,
			ImageURL:        line.ImageURL,
			Price:           line.Price,
			Quantity:        line.Quantity,
			SubtotalDisplay: format.Price(line.Subtotal()),
		})
	}
	view.Total, _ = domain.CartTotal(lines)
	view.TotalDisplay = format.Price(view.Total)
	return view
}

func buildCartJSON(lines []domain.CartLine, message string) cartJSON {
	body := cartJSON{Items: make([]cartLineJSON, 0, len(lines)), Message: message}
	for i, line := range lines {
		body.Count += line.Quantity
		body.Items = append(body.Items, cartLineJSON{
			Index:        i,
			Name:         line.Name,
			ImageURL:     line.ImageURL,
			Price:        line.Price,
			PriceDisplay: format.Price(line.Price),
			Quantity:     line.Quantity,
			Subtotal:     line.Subtotal(),
		})
	}
	body.Total, _ = domain.CartTotal(lines)
	body.TotalDisplay = format.Price(body.Total)
	return body
}

func (s *Server) flashViews(lang string, flashes []session.Flash) []flashView {
	if len(flashes) == 0 {
		return nil
	}
	out := make([]flashView, 0, len(flashes))
	for _, f := range flashes {
		var msg string
		if f.Arg != "" {
			msg = s.messages.T(lang, f.Key, f.Arg)
		} else {
			msg = s.messages.T(lang, f.Key)
		}
		out = append(out, flashView{Tone: f.Tone, Message: msg})
	}
	return out
}
