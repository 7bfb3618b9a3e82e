// Package journal appends proposal outcomes to zstd compressed JSONL files,
// one file per rotation period.
package journal

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const stampLayout = "20060102T1504Z"

// segment is the open file for one rotation period. Reopening a period
// appends a new zstd frame to the same file.
type segment struct {
	start time.Time
	f     *os.File
	zw    *zstd.Encoder
	buf   *bufio.Writer
	enc   *json.Encoder
	lines int
}

func segmentPath(dir, prefix string, start time.Time) string {
	return filepath.Join(dir, prefix+"-"+start.UTC().Format(stampLayout)+".jsonl.zst")
}

func openSegment(dir, prefix string, start time.Time) (*segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(segmentPath(dir, prefix, start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	buf := bufio.NewWriterSize(zw, 32*1024)
	return &segment{start: start, f: f, zw: zw, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// append writes v as one line and flushes it to the file.
func (s *segment) append(v any) error {
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.lines++
	return s.zw.Flush()
}

func (s *segment) close() error {
	ferr := s.buf.Flush()
	zerr := s.zw.Close()
	cerr := s.f.Close()
	for _, err := range []error{ferr, zerr, cerr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Files lists the journal files for prefix in dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadLines decodes every JSON line of a journal file into fn. Files that
// were reopened hold several zstd frames; the reader handles both.
func ReadLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
