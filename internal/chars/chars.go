// internal/chars/chars.go
//
// Recommended constraining characters for new games.
//
// Responsibilities:
//   - Load the list from a file (CHARS_FILE) or fall back to the embedded default.
//   - Pick N distinct characters at random for the start screen.
//   - Normalize a requested constraining character to a single grapheme.
//
// List format: one character per line; blank lines and "#" comments are
// ignored, as is any line holding more than one grapheme cluster.

package chars

import (
	"bufio"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/rivo/uniseg"
	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"

	"github.com/robalobadob/feihualing/assets"
)

// ErrEmpty is returned when a list yields no usable characters.
var ErrEmpty = errors.New("chars: list is empty")

// List is an immutable, de-duplicated set of recommended characters.
type List struct {
	chars []string
}

// Load reads the list from path, or from the embedded default when path is empty.
func Load(path string) (*List, error) {
	var lines []string
	var err error
	if path == "" {
		lines, err = assets.Chars()
	} else {
		lines, err = readFile(path)
	}
	if err != nil {
		return nil, err
	}

	cs := lo.Uniq(lo.FilterMap(lines, func(l string, _ int) (string, bool) {
		c := Normalize(l)
		return c, c != "" && c == norm.NFC.String(strings.TrimSpace(l))
	}))
	if len(cs) == 0 {
		return nil, ErrEmpty
	}
	return &List{chars: cs}, nil
}

var (
	defaultOnce sync.Once
	defaultList *List
	defaultErr  error
)

// Default returns the embedded list, loaded once.
func Default() (*List, error) {
	defaultOnce.Do(func() { defaultList, defaultErr = Load("") })
	return defaultList, defaultErr
}

func readFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

// All returns a copy of the list in file order.
func (l *List) All() []string { return append([]string(nil), l.chars...) }

// Len reports how many characters are loaded.
func (l *List) Len() int { return len(l.chars) }

// Pick returns up to n distinct characters in random order.
func (l *List) Pick(n int) []string {
	if n <= 0 {
		return []string{}
	}
	return lo.Samples(l.chars, n)
}

// At returns the character at i modulo the list length.
func (l *List) At(i int) string {
	if i < 0 {
		i = -i
	}
	return l.chars[i%len(l.chars)]
}

// Normalize trims s, puts it in NFC and keeps only its first grapheme
// cluster, so "明月" becomes "明". Empty input yields "".
func Normalize(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	first, _, _, _ := uniseg.FirstGraphemeClusterInString(s, -1)
	return first
}
