/* Interfaces used by comms.Connection.

See connection.go for details.
*/

package comms

// ByteConnection - Provides a byte oriented read/write stream.
// Note that net.Conn implements this interface.
type ByteConnection interface {
	Read(buffer []byte) (byteCount int, err error)
	Write(buffer []byte) (byteCount int, err error)
}

// Framer - Frames and unframes single lines of text to be sent and received
// over a stream. Unlike the length-prefixed binary framer this protocol
// replaces, a Framer here deals directly in newline-terminated strings: the
// wire protocol in this module is plain text, not a binary envelope.
type Framer interface {
	// Send - Send the given line. A trailing newline is added if missing.
	Send(line string) error

	// Receive - Blocking call to receive the next complete line, without its
	// trailing newline.
	Receive() (line string, err error)
}
