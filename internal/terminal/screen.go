package terminal

import (
	"strings"
	"sync"

	"github.com/tuzig/vt10x"
)

// Screen is the emulated screen behind the console. It tracks cursor state
// and visible content so the client knows what the user is looking at.
type Screen struct {
	mu   sync.Mutex
	term vt10x.Terminal
	cols int
	rows int
}

// NewScreen creates a screen of the given size.
func NewScreen(cols, rows int) *Screen {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	return &Screen{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

// Write feeds terminal output, escape sequences included.
func (s *Screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term.Write(p)
}

// Resize changes the screen size.
func (s *Screen) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term.Resize(cols, rows)
	s.cols = cols
	s.rows = rows
}

// Size returns the screen size.
func (s *Screen) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Cursor returns the zero-based cursor column and row.
func (s *Screen) Cursor() (x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.term.Cursor()
	return c.X, c.Y
}

// Lines returns the visible rows with trailing blanks removed.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, s.rows)
	row := make([]rune, s.cols)
	for y := 0; y < s.rows; y++ {
		for x := 0; x < s.cols; x++ {
			g := s.term.Cell(x, y)
			if g.Char == 0 {
				row[x] = ' '
			} else {
				row[x] = g.Char
			}
		}
		lines[y] = strings.TrimRight(string(row), " ")
	}
	return lines
}

// String returns the visible content without trailing empty rows.
func (s *Screen) String() string {
	lines := s.Lines()
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}
