package oracle

import (
	"bufio"
	"os"
	"strings"
)

// SourceCache lazily loads and line-indexes source files referenced by
// debug info, caching each file's lines after first access and never
// invalidating (spec.md §3 Lifecycles, §4.3 "Source text").
type SourceCache struct {
	files map[string][]string
	open  func(path string) (*os.File, error)
}

func NewSourceCache() *SourceCache {
	return &SourceCache{files: make(map[string][]string), open: os.Open}
}

// Line returns the 1-indexed line of path, stripped of trailing CR/LF. ok
// is false if the file could not be read or the line is out of range.
func (c *SourceCache) Line(path string, line int) (text string, ok bool) {
	lines, err := c.load(path)
	if err != nil || line < 1 || line > len(lines) {
		return "", false
	}
	return lines[line-1], true
}

func (c *SourceCache) load(path string) ([]string, error) {
	if lines, ok := c.files[path]; ok {
		return lines, nil
	}
	f, err := c.open(path)
	if err != nil {
		c.files[path] = nil
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r\n"))
	}
	if err := sc.Err(); err != nil {
		c.files[path] = nil
		return nil, err
	}
	c.files[path] = lines
	return lines, nil
}
