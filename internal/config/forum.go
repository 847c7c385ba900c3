package config

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// SelectorList is an ordered list of CSS selectors for one logical field.
// The first selector that matches wins.
type SelectorList []string

// UnmarshalYAML accepts either a single selector string or a sequence.
func (s *SelectorList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(value.Value) == "" {
			*s = nil
			return nil
		}
		*s = SelectorList{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		out := make(SelectorList, 0, len(list))
		for _, sel := range list {
			if strings.TrimSpace(sel) != "" {
				out = append(out, sel)
			}
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: selector must be a string or a list of strings", value.Line)
	}
}

// Selectors holds the fallback lists for every extracted field.
type Selectors struct {
	ThreadLink      SelectorList `yaml:"thread_link,omitempty"`
	NextPage        SelectorList `yaml:"next_page,omitempty"`
	ThreadTitle     SelectorList `yaml:"thread_title,omitempty"`
	PostContainer   SelectorList `yaml:"post_container,omitempty"`
	Content         SelectorList `yaml:"content,omitempty"`
	Author          SelectorList `yaml:"author,omitempty"`
	Timestamp       SelectorList `yaml:"posted_time,omitempty"`
	Permalink       SelectorList `yaml:"post_permalink,omitempty"`
	AttachmentBlock SelectorList `yaml:"attachment_block,omitempty"`
	AttachmentName  SelectorList `yaml:"attachment_name,omitempty"`
	AttachmentSize  SelectorList `yaml:"attachment_size,omitempty"`
	AttachmentLink  SelectorList `yaml:"attachment_link,omitempty"`
}

// fields pairs each selector list with its YAML name for validation messages.
func (s *Selectors) fields() []struct {
	name string
	list SelectorList
} {
	return []struct {
		name string
		list SelectorList
	}{
		{"thread_link", s.ThreadLink},
		{"next_page", s.NextPage},
		{"thread_title", s.ThreadTitle},
		{"post_container", s.PostContainer},
		{"content", s.Content},
		{"author", s.Author},
		{"posted_time", s.Timestamp},
		{"post_permalink", s.Permalink},
		{"attachment_block", s.AttachmentBlock},
		{"attachment_name", s.AttachmentName},
		{"attachment_size", s.AttachmentSize},
		{"attachment_link", s.AttachmentLink},
	}
}

// merge overlays the non-empty lists of o onto s.
func (s *Selectors) merge(o Selectors) {
	pick := func(dst *SelectorList, src SelectorList) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&s.ThreadLink, o.ThreadLink)
	pick(&s.NextPage, o.NextPage)
	pick(&s.ThreadTitle, o.ThreadTitle)
	pick(&s.PostContainer, o.PostContainer)
	pick(&s.Content, o.Content)
	pick(&s.Author, o.Author)
	pick(&s.Timestamp, o.Timestamp)
	pick(&s.Permalink, o.Permalink)
	pick(&s.AttachmentBlock, o.AttachmentBlock)
	pick(&s.AttachmentName, o.AttachmentName)
	pick(&s.AttachmentSize, o.AttachmentSize)
	pick(&s.AttachmentLink, o.AttachmentLink)
}

// ForumConfig describes one forum. It is not modified after loading.
type ForumConfig struct {
	// Key is the forum's key under "forums". It is filled in by File.Forum.
	Key string `yaml:"-"`

	// Engine is the fetch engine for this forum. Empty or auto falls back to
	// the global engine.
	Engine Engine `yaml:"engine,omitempty"`

	// ListURLs are the listing pages pagination starts from, in order.
	ListURLs []string `yaml:"list_urls,omitempty"`

	// MaxPages overrides the global listing page cap when positive.
	MaxPages int `yaml:"max_pages,omitempty"`

	// Cookie is sent with every protocol-client request, e.g. a session
	// cookie for forums that require login.
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra request headers.
	Headers map[string]string `yaml:"headers,omitempty"`

	Selectors `yaml:",inline"`
}

// Validate checks that the forum can be crawled: it has listing URLs, the
// selectors pagination and post extraction depend on, and every selector
// compiles.
func (f *ForumConfig) Validate() error {
	if len(f.ListURLs) == 0 {
		return fmt.Errorf("%s: %w", f.Key, ErrNoListURLs)
	}
	for _, raw := range f.ListURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s: %w: %q", f.Key, ErrInvalidListURL, raw)
		}
	}
	if len(f.ThreadLink) == 0 {
		return fmt.Errorf("%s: %w: thread_link", f.Key, ErrMissingSelector)
	}
	if len(f.PostContainer) == 0 {
		return fmt.Errorf("%s: %w: post_container", f.Key, ErrMissingSelector)
	}
	for _, field := range f.fields() {
		for _, sel := range field.list {
			if _, err := cascadia.ParseGroup(sel); err != nil {
				return fmt.Errorf("%s: %w in %s %q: %v", f.Key, ErrInvalidSelector, field.name, sel, err)
			}
		}
	}
	return nil
}

// File is the on-disk forum configuration.
type File struct {
	// Forums maps forum keys to their definitions.
	Forums map[string]ForumConfig `yaml:"forums,omitempty"`

	// Defaults apply to every forum for fields the forum leaves unset.
	Defaults ForumConfig `yaml:"defaults,omitempty"`
}

// Keys returns the forum keys in sorted order.
func (cf *File) Keys() []string {
	keys := make([]string, 0, len(cf.Forums))
	for k := range cf.Forums {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Forum returns the definition for key merged over the defaults.
// Forum-specific values take precedence; headers are merged key by key.
func (cf *File) Forum(key string) (ForumConfig, error) {
	forum, ok := cf.Forums[key]
	if !ok {
		return ForumConfig{}, fmt.Errorf("%w: %q", ErrUnknownForum, key)
	}

	result := cf.Defaults
	result.Key = key
	result.Headers = maps.Clone(cf.Defaults.Headers)
	result.ListURLs = append([]string(nil), cf.Defaults.ListURLs...)

	if forum.Engine != "" {
		result.Engine = forum.Engine
	}
	if len(forum.ListURLs) > 0 {
		result.ListURLs = forum.ListURLs
	}
	if forum.MaxPages > 0 {
		result.MaxPages = forum.MaxPages
	}
	if forum.Cookie != "" {
		result.Cookie = forum.Cookie
	}
	if len(forum.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(forum.Headers))
		}
		maps.Copy(result.Headers, forum.Headers)
	}
	result.Selectors.merge(forum.Selectors)

	return result, nil
}

// Select resolves and validates the forums named by keys. An empty keys
// slice selects every forum in the file.
func (cf *File) Select(keys []string) ([]ForumConfig, error) {
	if len(cf.Forums) == 0 {
		return nil, ErrNoForums
	}
	if len(keys) == 0 {
		keys = cf.Keys()
	}

	forums := make([]ForumConfig, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		forum, err := cf.Forum(key)
		if err != nil {
			return nil, err
		}
		if err := forum.Validate(); err != nil {
			return nil, err
		}
		forums = append(forums, forum)
	}
	if len(forums) == 0 {
		return nil, ErrNoForums
	}
	return forums, nil
}
