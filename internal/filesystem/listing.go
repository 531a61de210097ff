package filesystem

import (
	"bufio"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// WriteListing writes the entries of dir to w, one per line. Directories end
// with "/" and, when recursive, are followed by their own entries indented
// by two more spaces.
func WriteListing(w io.Writer, fs afero.Fs, dir string, recursive bool) error {
	bw := bufio.NewWriter(w)
	if err := writeEntries(bw, fs, dir, 0, recursive); err != nil {
		_ = bw.Flush()
		return err
	}
	return bw.Flush()
}

func writeEntries(w *bufio.Writer, fs afero.Fs, dir string, depth int, recursive bool) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return err
	}
	indent := strings.Repeat("  ", depth)
	for _, e := range entries {
		w.WriteString(indent)
		w.WriteString(e.Name())
		if e.IsDir() {
			w.WriteByte('/')
		}
		w.WriteByte('\n')
		if e.IsDir() && recursive {
			if err := writeEntries(w, fs, path.Join(dir, e.Name()), depth+1, recursive); err != nil {
				return err
			}
		}
	}
	return nil
}
