// assets/embed.go
//
// Embedded default data for the game server.
//   - chars.txt:        recommended constraining characters, one per line.
//   - seed_poems.json:  sample corpus imported into an empty database.
//   - sql/*.sql:        schema migrations, applied in lexical order.
//
// Both can be replaced at runtime (CHARS_FILE, CORPUS_SEED_FILE).

package assets

import (
	"bufio"
	"embed"
	"io/fs"
	"strings"
)

//go:embed chars.txt seed_poems.json sql/*.sql
var FS embed.FS

func readLines(name string) ([]string, error) {
	f, err := FS.Open(name)
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

// Chars returns the default recommended characters.
func Chars() ([]string, error) {
	return readLines("chars.txt")
}

// SeedPoems returns the raw JSON of the sample corpus.
func SeedPoems() ([]byte, error) {
	return FS.ReadFile("seed_poems.json")
}

// Migrations returns the sql directory as its own file system.
func Migrations() fs.FS {
	sub, err := fs.Sub(FS, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}
