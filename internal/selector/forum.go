package selector

import (
	"fmt"

	"github.com/nao1215/darkwatch/internal/config"
)

// defaultAttachmentLink finds the download link inside an attachment block.
var defaultAttachmentLink = []string{"a[href]"}

// Forum is the compiled selector set of one forum.
type Forum struct {
	ThreadLink      List
	NextPage        List
	ThreadTitle     List
	PostContainer   List
	Content         List
	Author          List
	Timestamp       List
	Permalink       List
	AttachmentBlock List
	AttachmentName  List
	AttachmentSize  List
	AttachmentLink  List
}

// CompileForum compiles every selector list of a forum.
func CompileForum(s config.Selectors) (*Forum, error) {
	link := s.AttachmentLink
	if len(link) == 0 {
		link = defaultAttachmentLink
	}

	f := &Forum{}
	targets := []struct {
		name string
		dst  *List
		src  []string
	}{
		{"thread_link", &f.ThreadLink, s.ThreadLink},
		{"next_page", &f.NextPage, s.NextPage},
		{"thread_title", &f.ThreadTitle, s.ThreadTitle},
		{"post_container", &f.PostContainer, s.PostContainer},
		{"content", &f.Content, s.Content},
		{"author", &f.Author, s.Author},
		{"posted_time", &f.Timestamp, s.Timestamp},
		{"post_permalink", &f.Permalink, s.Permalink},
		{"attachment_block", &f.AttachmentBlock, s.AttachmentBlock},
		{"attachment_name", &f.AttachmentName, s.AttachmentName},
		{"attachment_size", &f.AttachmentSize, s.AttachmentSize},
		{"attachment_link", &f.AttachmentLink, link},
	}
	for _, t := range targets {
		l, err := Compile(t.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.name, err)
		}
		*t.dst = l
	}
	return f, nil
}
