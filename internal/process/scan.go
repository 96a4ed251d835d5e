package process

import (
	"bufio"
	"io"
)

// maxScanTokenSize bounds a single output line. Backend services log JSON
// blobs and stack traces that exceed bufio.Scanner's 64KB default.
const maxScanTokenSize = 1024 * 1024

// scanLines reads r line by line until EOF and passes each line (without the
// trailing newline) to handler. Read errors terminate the scan silently: the
// pipe closing when the process exits is the normal end of stream, and any
// other failure is observed by cmd.Wait.
func scanLines(r io.Reader, handler OutputHandler) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	for scanner.Scan() {
		handler(scanner.Text())
	}
}
