/* The line framer.

This is the framer used by comms.Connection. It implements the Framer
interface from interfaces.go.

Where a length-prefixed framer would prepend a 4 byte length field onto
each message, this framer's delimiter is simply '\n': the command protocol
this module carries is a line-oriented text protocol, not a
length-prefixed binary one, so the framing rule it needs is "read to the
next newline".
*/

package comms

import (
	"bufio"
	"strings"
)

// makeLineFramer - Make a line framer that sits on top of the given byte connection.
func makeLineFramer(conn ByteConnection) Framer {
	var framer lineFramer
	framer.conn = conn
	framer.reader = bufio.NewReader(conn)
	return &framer
}

// Send - Send the given line. A trailing newline is added if missing.
func (me *lineFramer) Send(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	_, err := me.conn.Write([]byte(line))
	return err
}

// Receive - Blocking call to receive the next complete line, without its trailing newline.
func (me *lineFramer) Receive() (line string, err error) {
	raw, err := me.reader.ReadString('\n')
	if err != nil {
		// ReadString may return a partial (unterminated) line alongside the
		// error (typically io.EOF); there is nothing useful we can do with
		// a partial line, so we drop it and propagate the error.
		return "", err
	}

	return strings.TrimSuffix(raw, "\n"), nil
}

// lineFramer - A framer that delimits messages with '\n'.
type lineFramer struct {
	conn   ByteConnection
	reader *bufio.Reader
}
