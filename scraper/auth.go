package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// Portal layout.
const (
	loginPath          = "/Espace-Client/Connexion"
	accountsPath       = "/Espace-Client/Accueil"
	billsPath          = "/Espace-Client/Mes-Factures"
	loginFormSelector  = "#connexion form"
	logoutSelector     = "a[href='/Espace-Client/Deconnexion']"
	loginErrorSelector = ".error"
)

// Validator decides whether the page returned by a sign-in post means success.
type Validator func(statusCode int, doc *goquery.Document, resp *colly.Response) bool

// SignInRequest describes a form-based sign-in.
type SignInRequest struct {
	URL          string
	FormSelector string
	FormData     map[string]string
	Validate     Validator
	// ErrorSelector locates the portal's error message on failure. Optional.
	ErrorSelector string
}

// SignIn loads req.URL, fills the form matched by req.FormSelector with its
// existing inputs overlaid by req.FormData, submits it, and runs req.Validate
// on the result. A rejected sign-in returns ErrAuthentication.
func (s *Session) SignIn(ctx context.Context, req SignInRequest) error {
	doc, resp, err := s.Fetch(ctx, req.URL)
	if err != nil {
		return fmt.Errorf("load sign-in page: %w", err)
	}

	form := doc.Find(req.FormSelector).First()
	if form.Length() == 0 {
		return fmt.Errorf("sign-in form %q not found on %s", req.FormSelector, req.URL)
	}

	target := req.URL
	if action := strings.TrimSpace(form.AttrOr("action", "")); action != "" {
		target = resp.Request.AbsoluteURL(action)
	}

	values := formValues(form)
	for k, v := range req.FormData {
		values.Set(k, v)
	}

	doc, resp, err = s.PostForm(ctx, target, values)
	if err != nil {
		return fmt.Errorf("submit sign-in form: %w", err)
	}

	if req.Validate != nil && !req.Validate(resp.StatusCode, doc, resp) {
		message := ""
		if req.ErrorSelector != "" {
			message = strings.Join(strings.Fields(doc.Find(req.ErrorSelector).Text()), " ")
		}
		return ErrAuthentication{Message: message}
	}
	return nil
}

// Authenticate signs into the customer area with the portal's login form.
func (s *Session) Authenticate(ctx context.Context, login, password string) error {
	return s.SignIn(ctx, SignInRequest{
		URL:          s.URL(loginPath),
		FormSelector: loginFormSelector,
		FormData: map[string]string{
			"email":    login,
			"password": password,
		},
		Validate:      validateLogin,
		ErrorSelector: loginErrorSelector,
	})
}

func validateLogin(statusCode int, doc *goquery.Document, resp *colly.Response) bool {
	slog.Debug("sign-in response",
		slog.Int("status", statusCode),
		slog.String("url", resp.Request.URL.String()),
	)
	return doc.Find(logoutSelector).Length() >= 1
}

// formValues collects the named inputs a browser would submit.
func formValues(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input[name], select[name], textarea[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		switch strings.ToLower(in.AttrOr("type", "")) {
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
		case "submit", "button", "image", "file":
			return
		}
		if goquery.NodeName(in) == "select" {
			values.Set(name, in.Find("option[selected]").First().AttrOr("value", ""))
			return
		}
		if goquery.NodeName(in) == "textarea" {
			values.Set(name, in.Text())
			return
		}
		values.Set(name, in.AttrOr("value", ""))
	})
	return values
}
