package ingestion

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/pterm/pterm"
)

// IncrementalReader reads complete lines from a log file starting at a
// remembered byte offset, so restarts resume where the previous run stopped.
// Rotation is detected through the inode and through shrinking file size;
// either one resets the offset to the start of the new file.
type IncrementalReader struct {
	path     string
	position int64
	inode    uint64
	lastLine string
	logger   *pterm.Logger
}

func NewIncrementalReader(path string, position int64, inode int64, lastLine string, logger *pterm.Logger) *IncrementalReader {
	return &IncrementalReader{
		path:     path,
		position: position,
		inode:    uint64(inode),
		lastLine: lastLine,
		logger:   logger,
	}
}

// ReadBatch returns up to max complete lines appended since the last read,
// together with the byte offset after the last returned line, the file inode
// and the content of the last returned line. A partial line at the end of the
// file is left for a later call.
func (r *IncrementalReader) ReadBatch(max int) ([]string, int64, int64, string, error) {
	if max <= 0 {
		return nil, r.position, int64(r.inode), r.lastLine, nil
	}

	file, err := os.Open(r.path)
	if err != nil {
		return nil, r.position, int64(r.inode), r.lastLine, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, r.position, int64(r.inode), r.lastLine, fmt.Errorf("stat log file: %w", err)
	}

	inode := fileInode(info)
	if r.detectRotation(info.Size(), inode) {
		r.logger.Info("Log file rotated, restarting from beginning",
			r.logger.Args("path", r.path, "old_inode", r.inode, "new_inode", inode))
		r.position = 0
		r.lastLine = ""
	}
	r.inode = inode

	if info.Size() <= r.position {
		return nil, r.position, int64(r.inode), r.lastLine, nil
	}

	if _, err := file.Seek(r.position, io.SeekStart); err != nil {
		return nil, r.position, int64(r.inode), r.lastLine, fmt.Errorf("seek log file: %w", err)
	}

	lines := make([]string, 0, max)
	pos := r.position
	lastLine := r.lastLine

	reader := bufio.NewReaderSize(file, 64*1024)
	for len(lines) < max {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Incomplete trailing line, the writer has not finished it yet
			break
		}
		if err != nil {
			return nil, r.position, int64(r.inode), r.lastLine, fmt.Errorf("read log file: %w", err)
		}

		pos += int64(len(line))
		line = trimLineEnding(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		lastLine = line
	}

	r.position = pos
	r.lastLine = lastLine

	return lines, pos, int64(r.inode), lastLine, nil
}

// detectRotation reports whether the file at the reader's path is no longer
// the file the remembered offset refers to.
func (r *IncrementalReader) detectRotation(size int64, inode uint64) bool {
	if r.position == 0 {
		return false
	}
	if r.inode != 0 && inode != r.inode {
		return true
	}
	// Same inode but shorter content means the file was truncated in place
	return size < r.position
}

// Position returns the current byte offset into the file.
func (r *IncrementalReader) Position() int64 {
	return r.position
}

func trimLineEnding(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

func fileInode(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
