// Package letters retrieves legal letter templates by meaning and fills
// them from a user's description.
package letters

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
)

// DefaultPattern selects template files under the templates directory.
const DefaultPattern = "**/*.txt"

var ErrTemplateNotFound = eris.New("template not found")

// Template is one letter template.
type Template struct {
	Name         string   `json:"name"`
	Content      string   `json:"content"`
	Placeholders []string `json:"placeholders"`
}

// Loader reads templates from a directory.
type Loader struct {
	fsys    fs.FS
	pattern string
}

// NewLoader creates a loader over dir using DefaultPattern.
func NewLoader(dir string) *Loader {
	return NewLoaderFS(os.DirFS(dir), DefaultPattern)
}

// NewLoaderFS creates a loader over fsys matching pattern.
func NewLoaderFS(fsys fs.FS, pattern string) *Loader {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Loader{fsys: fsys, pattern: pattern}
}

// List returns the sorted names of all templates. A missing directory
// yields an empty list.
func (l *Loader) List() ([]string, error) {
	names, err := doublestar.Glob(l.fsys, l.pattern, doublestar.WithFilesOnly())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "listing templates")
	}
	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Load reads one template by name.
func (l *Loader) Load(name string) (*Template, error) {
	clean := path.Clean(strings.TrimPrefix(name, "/"))
	if !fs.ValidPath(clean) {
		return nil, eris.Wrapf(ErrTemplateNotFound, "%q", name)
	}
	data, err := fs.ReadFile(l.fsys, clean)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrTemplateNotFound, "%q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "reading template %s", name)
	}
	content := string(data)
	return &Template{Name: clean, Content: content, Placeholders: ExtractPlaceholders(content)}, nil
}

var (
	doubleBraceRe = regexp.MustCompile(`\{\{(.*?)\}\}`)
	singleBraceRe = regexp.MustCompile(`\{([^{}]+)\}`)
	bracketRe     = regexp.MustCompile(`\[(.*?)\]`)
	angleRe       = regexp.MustCompile(`<(.*?)>`)
)

// ExtractPlaceholders returns the sorted, de-duplicated names found in
// [Name], {{Name}}, <Name> and {Name} placeholders.
func ExtractPlaceholders(content string) []string {
	seen := map[string]bool{}
	collect := func(re *regexp.Regexp, s string) {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			if name := strings.TrimSpace(m[1]); name != "" {
				seen[name] = true
			}
		}
	}

	collect(doubleBraceRe, content)
	// Single braces are matched only outside {{...}}.
	collect(singleBraceRe, doubleBraceRe.ReplaceAllString(content, " "))
	collect(bracketRe, content)
	collect(angleRe, content)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Fill substitutes data into every placeholder syntax. Unknown keys are
// ignored and unfilled placeholders are left as they are.
func Fill(content string, data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := data[k]
		content = strings.ReplaceAll(content, "["+k+"]", v)
		content = strings.ReplaceAll(content, "{{"+k+"}}", v)
		content = strings.ReplaceAll(content, "<"+k+">", v)
		content = strings.ReplaceAll(content, "{"+k+"}", v)
	}
	return content
}
