package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"

	"github.com/nao1215/darkwatch/internal/fetch"
	"github.com/nao1215/darkwatch/internal/model"
	"github.com/nao1215/darkwatch/internal/selector"
)

// Parser extracts listing and thread data from fetched pages using one
// forum's compiled selectors. It never fetches anything.
type Parser struct {
	forumKey string
	sel      *selector.Forum
}

// NewParser returns a Parser for forumKey.
func NewParser(forumKey string, sel *selector.Forum) *Parser {
	return &Parser{forumKey: forumKey, sel: sel}
}

// ListingPage is what a listing page yields.
type ListingPage struct {
	// Threads are the thread links in document order, without duplicates.
	Threads []model.Thread
	// NextURL is the absolute next-page URL, or "" on the last page.
	NextURL string
}

// ThreadPage is what a thread page yields.
type ThreadPage struct {
	// Title is the thread title from the page, or the listing link text.
	Title string
	// Hash identifies the thread by title and content.
	Hash string
	// Posts are the extracted posts in document order.
	Posts []*model.Post
}

// ParseListing extracts thread links and the next-page link. pageURL is the
// final URL of the page and resolves relative links.
func (p *Parser) ParseListing(pageURL string, body []byte) (*ListingPage, error) {
	base, root, err := parseDocument(pageURL, body)
	if err != nil {
		return nil, err
	}

	page := &ListingPage{}
	seen := make(map[string]struct{})
	links, _ := p.sel.ThreadLink.All(root)
	links.Each(func(_ int, s *goquery.Selection) {
		href, ok := linkHref(s)
		if !ok {
			return
		}
		abs, ok := resolve(base, href, false)
		if !ok || fetch.IsAttachmentURL(abs) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		page.Threads = append(page.Threads, model.Thread{
			ForumKey:   p.forumKey,
			Title:      selector.NormalizeText(s.Text()),
			Permalink:  abs,
			ListingURL: pageURL,
		})
	})

	next, _ := p.sel.NextPage.All(root)
	next.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := linkHref(s)
		if !ok {
			return true
		}
		if abs, ok := resolve(base, href, false); ok {
			page.NextURL = abs
			return false
		}
		return true
	})
	return page, nil
}

// ParseThread extracts the posts of thread from its page. Posts missing a
// field are kept and list the field in Missing. When attachments is true,
// attachment blocks inside each post are returned on the post.
func (p *Parser) ParseThread(thread model.Thread, pageURL string, body []byte, fetchedAt time.Time, attachments bool) (*ThreadPage, error) {
	base, root, err := parseDocument(pageURL, body)
	if err != nil {
		return nil, err
	}

	page := &ThreadPage{Title: thread.Title}
	if title, ok := p.sel.ThreadTitle.Text(root); ok {
		page.Title = title
	}

	containers, _ := p.sel.PostContainer.All(root)
	contents := make([]string, 0, containers.Length())
	containers.Each(func(_ int, c *goquery.Selection) {
		post := p.extractPost(base, c)
		post.ThreadTitle = page.Title
		post.ThreadPermalink = thread.Permalink
		post.ListingURL = thread.ListingURL
		post.FetchedAt = fetchedAt
		if attachments {
			post.Attachments = p.extractAttachments(base, c, thread, post.Permalink)
		}
		page.Posts = append(page.Posts, post)
		contents = append(contents, post.Content)
	})

	page.Hash = model.ThreadHash(page.Title, contents)
	for _, post := range page.Posts {
		for i := range post.Attachments {
			post.Attachments[i].ThreadHash = page.Hash
		}
	}
	return page, nil
}

func (p *Parser) extractPost(base *url.URL, c *goquery.Selection) *model.Post {
	post := &model.Post{ForumKey: p.forumKey}

	if p.sel.Content.Empty() {
		post.Content = selector.NormalizeText(c.Text())
	} else if content, ok := p.sel.Content.Text(c); ok {
		post.Content = content
	}
	if post.Content == "" {
		post.MarkMissing(model.FieldContent)
	}

	if author, ok := p.sel.Author.Text(c); ok {
		post.Author = author
	} else {
		post.MarkMissing(model.FieldAuthor)
	}

	if ts, ok := p.sel.Timestamp.AttrOrText(c, "datetime"); ok {
		post.Timestamp = ts
	} else {
		post.MarkMissing(model.FieldTimestamp)
	}

	if href, ok := p.sel.Permalink.Attr(c, "href"); ok {
		if abs, ok := resolve(base, href, true); ok {
			post.Permalink = abs
		}
	}
	if post.Permalink == "" {
		post.MarkMissing(model.FieldPermalink)
	}
	return post
}

func (p *Parser) extractAttachments(base *url.URL, c *goquery.Selection, thread model.Thread, postPermalink string) []model.AttachmentRef {
	var refs []model.AttachmentRef
	blocks, _ := p.sel.AttachmentBlock.All(c)
	blocks.Each(func(_ int, b *goquery.Selection) {
		href, ok := "", false
		if goquery.NodeName(b) == "a" {
			href, ok = b.Attr("href")
			href = strings.TrimSpace(href)
			ok = ok && href != ""
		}
		if !ok {
			href, ok = p.sel.AttachmentLink.Attr(b, "href")
		}
		if !ok {
			return
		}
		abs, ok := resolve(base, href, false)
		if !ok {
			return
		}

		name, _ := p.sel.AttachmentName.Text(b)
		size := model.UnknownSize
		if text, ok := p.sel.AttachmentSize.Text(b); ok {
			size = parseDeclaredSize(text)
		}
		refs = append(refs, model.AttachmentRef{
			ForumKey:        p.forumKey,
			ThreadPermalink: thread.Permalink,
			PostPermalink:   postPermalink,
			URL:             abs,
			DeclaredName:    name,
			DeclaredSize:    size,
		})
	})
	return refs
}

func parseDocument(pageURL string, body []byte) (*url.URL, *goquery.Selection, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}
	return base, doc.Selection, nil
}

// linkHref returns the href of s when it is an anchor, otherwise the href
// of the first anchor inside it.
func linkHref(s *goquery.Selection) (string, bool) {
	a := s
	if goquery.NodeName(s) != "a" {
		a = s.Find("a[href]").First()
	}
	href, ok := a.Attr("href")
	href = strings.TrimSpace(href)
	return href, ok && href != ""
}

// resolve makes href absolute against base. Only http and https results
// are accepted. Fragments are kept for post permalinks, which often differ
// only by fragment, and dropped elsewhere.
func resolve(base *url.URL, href string, keepFragment bool) (string, bool) {
	if href == "" || (strings.HasPrefix(href, "#") && !keepFragment) {
		return "", false
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !keepFragment {
		abs.Fragment = ""
		abs.RawFragment = ""
	}
	return abs.String(), true
}

// declaredSizePattern needs a unit: a bare number on an attachment line is
// usually a file or message count.
var declaredSizePattern = regexp.MustCompile(`(?i)\b(\d[\d.,]*)\s*(bytes?|[kmgtpe]i?b|b)\b`)

// parseDeclaredSize reads a size shown on a page, such as "25 MB",
// "1.5 GiB" or "(25,000,000 bytes)". When the text holds several sizes the
// last one wins. It returns model.UnknownSize when the text holds no size.
func parseDeclaredSize(text string) int64 {
	all := declaredSizePattern.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return model.UnknownSize
	}
	m := all[len(all)-1]
	unit := strings.ToLower(m[2])
	if strings.HasPrefix(unit, "byte") {
		unit = "b"
	}
	n, err := humanize.ParseBytes(strings.TrimRight(m[1], ".,") + " " + unit)
	if err != nil || n > 1<<62 {
		return model.UnknownSize
	}
	return int64(n)
}
