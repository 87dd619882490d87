package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/larrabee/s3sftp/event"
)

// DefaultTemplate is the remote filename template used when none is configured.
const DefaultTemplate = "data_{current_date}"

// Placeholders recognised in filename templates.
const (
	PlaceholderBucket = "bucket"
	PlaceholderKey    = "key"
	PlaceholderDate   = "current_date"
)

// keySuffixStrip is removed (first occurrence only) from object keys substituted for {key}.
const keySuffixStrip = "_000"

type segment struct {
	literal     string
	placeholder string
}

// Template is a compiled remote filename template.
//
// "{{" and "}}" produce literal braces, any other brace expression must name a known placeholder.
type Template struct {
	raw      string
	segments []segment
}

// ParseTemplate compiles a filename template.
func ParseTemplate(s string) (*Template, error) {
	t := &Template{raw: s}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("filename template %q: unclosed '{' at %d", s, i)
			}
			name := s[i+1 : i+1+end]
			switch name {
			case PlaceholderBucket, PlaceholderKey, PlaceholderDate:
			default:
				return nil, fmt.Errorf("filename template %q: unknown placeholder {%s}", s, name)
			}
			flush()
			t.segments = append(t.segments, segment{placeholder: name})
			i += end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("filename template %q: single '}' at %d", s, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	if len(t.segments) == 0 {
		return nil, fmt.Errorf("filename template is empty")
	}
	return t, nil
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(s string) *Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve substitutes obj and the date of now into the template.
func (t *Template) Resolve(obj event.CreatedObject, now time.Time) string {
	var b strings.Builder
	for _, seg := range t.segments {
		switch seg.placeholder {
		case "":
			b.WriteString(seg.literal)
		case PlaceholderBucket:
			b.WriteString(obj.Bucket)
		case PlaceholderKey:
			b.WriteString(strings.Replace(obj.Key, keySuffixStrip, "", 1))
		case PlaceholderDate:
			b.WriteString(now.Format("2006-01-02"))
		}
	}
	return b.String()
}

func (t *Template) String() string {
	return t.raw
}
