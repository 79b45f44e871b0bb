package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

var emailInText = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// formFieldHints are field names that mark a form as a contact form. An email
// input alone usually means a newsletter signup.
var formFieldHints = []string{"message", "inquiry", "enquiry", "comment", "subject"}

// embeddedFormHosts are third-party form builders embedded via iframe.
var embeddedFormHosts = []string{"docs.google.com/forms", "forms.gle", "typeform.com", "jotform.com", "tally.so"}

// pageContacts is what a single page revealed.
type pageContacts struct {
	emails  []string
	hasForm bool
	formURL string
}

// parsePage extracts emails and contact-form signals from a scraped page.
func parsePage(page outreach.ScrapeResult) pageContacts {
	var out pageContacts
	seen := make(map[string]struct{})
	addEmail := func(raw string) {
		email := outreach.CleanEmail(raw)
		if !outreach.IsValidEmail(email) {
			return
		}
		if _, dup := seen[email]; dup {
			return
		}
		seen[email] = struct{}{}
		out.emails = append(out.emails, email)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err == nil {
		doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			addEmail(href)
		})
		doc.Find("script, style, noscript").Remove()
		for _, match := range emailInText.FindAllString(doc.Text(), -1) {
			addEmail(match)
		}
		out.hasForm, out.formURL = detectForm(doc, page.URL)
	}
	for _, match := range emailInText.FindAllString(page.Markdown, -1) {
		addEmail(match)
	}
	for _, link := range page.Links {
		if strings.HasPrefix(strings.ToLower(link), "mailto:") {
			addEmail(link)
		}
	}
	return out
}

// detectForm reports a contact form on the page and the URL to reach it.
func detectForm(doc *goquery.Document, pageURL string) (bool, string) {
	contactPage := isContactLike(pageURL)
	found := false
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		if isContactForm(form) || contactPage {
			found = true
			return false
		}
		return true
	})
	if found {
		return true, pageURL
	}
	var embedded string
	doc.Find("iframe[src]").EachWithBreak(func(_ int, frame *goquery.Selection) bool {
		src, _ := frame.Attr("src")
		lower := strings.ToLower(src)
		for _, host := range embeddedFormHosts {
			if strings.Contains(lower, host) {
				embedded = resolve(pageURL, src)
				return false
			}
		}
		return true
	})
	if embedded != "" {
		return true, embedded
	}
	return false, ""
}

func isContactForm(form *goquery.Selection) bool {
	if form.Find("textarea").Length() > 0 {
		return true
	}
	if form.Find(`input[type="email"]`).Length() > 0 && form.Find("input, textarea").Length() > 2 {
		return true
	}
	match := false
	form.Find("input[name], textarea[name]").EachWithBreak(func(_ int, field *goquery.Selection) bool {
		name, _ := field.Attr("name")
		lower := strings.ToLower(name)
		for _, hint := range formFieldHints {
			if strings.Contains(lower, hint) {
				match = true
				return false
			}
		}
		return true
	})
	return match
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// contactFindings accumulates the best signals across a creator's pages.
type contactFindings struct {
	email          string
	emailSource    string
	emailOnContact bool
	formURL        string
	hasForm        bool
}

// absorb folds one page in. An email from a contact-like page replaces one
// found elsewhere; the first form wins.
func (f *contactFindings) absorb(page outreach.ScrapeResult) {
	got := parsePage(page)
	contactPage := isContactLike(page.URL)
	if len(got.emails) > 0 && (f.email == "" || (contactPage && !f.emailOnContact)) {
		f.email = got.emails[0]
		f.emailSource = page.URL
		f.emailOnContact = contactPage
	}
	if got.hasForm && !f.hasForm {
		f.hasForm = true
		f.formURL = got.formURL
	}
}

// merge folds in a later site's findings. Signals already held are kept.
func (f *contactFindings) merge(other contactFindings) {
	if f.email == "" && other.email != "" {
		f.email = other.email
		f.emailSource = other.emailSource
		f.emailOnContact = other.emailOnContact
	}
	if !f.hasForm && other.hasForm {
		f.hasForm = true
		f.formURL = other.formURL
	}
}

func (f *contactFindings) hasSignal() bool {
	return f.email != "" || f.hasForm
}

func (f *contactFindings) complete() bool {
	return f.email != "" && f.hasForm
}

func (f *contactFindings) apply(res *outreach.ExtractionResult) {
	res.Email = f.email
	res.EmailSourceURL = f.emailSource
	res.HasContactForm = f.hasForm
	res.ContactFormURL = f.formURL
}
