package htcore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// ResponseHead is the parsed status line + headers, the payload of the
// ResponseHead event described in spec.md §4.3 step 2.
type ResponseHead struct {
	Status       int
	ReasonPhrase string
	Headers      Headers
}

// readResponseHead reads and parses one HTTP/1.1 status line plus header
// block from r, grounded in the teacher's ResponseHeader.parseFirstLine /
// parseHeaders (header.go), generalized off fasthttp's byte-buffer-at-once
// parse into one that works directly against a bufio.Reader (we don't need
// the teacher's zero-allocation raw-byte-slice header storage; Headers'
// ordered string pairs are the data model spec.md §3 asks for).
func readResponseHead(r *bufio.Reader) (ResponseHead, error) {
	var head ResponseHead

	line, err := readCRLFLine(r)
	if err != nil {
		return head, err
	}
	status, reason, err := parseStatusLine(line)
	if err != nil {
		return head, err
	}
	head.Status = status
	head.ReasonPhrase = reason

	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return head, err
		}
		if len(line) == 0 {
			break // blank line terminates the header block
		}
		name, value, err := parseHeaderLine(line)
		if err != nil {
			return head, err
		}
		head.Headers.Add(name, value)
	}
	return head, nil
}

// readCRLFLine reads up to and including "\r\n" (or a bare "\n"), returning
// the line with the terminator stripped.
func readCRLFLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, newErr("readCRLFLine", KindProtocol, "peer closed mid-header", err)
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}

func parseStatusLine(line []byte) (int, string, error) {
	// HTTP/1.1 200 OK
	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return 0, "", newErr("parseStatusLine", KindProtocol, fmt.Sprintf("malformed status line %q", line), nil)
	}
	rest := line[sp+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	var statusBytes, reasonBytes []byte
	if sp2 < 0 {
		statusBytes = rest
	} else {
		statusBytes = rest[:sp2]
		reasonBytes = rest[sp2+1:]
	}
	status, err := strconv.Atoi(string(statusBytes))
	if err != nil || status < 100 || status > 599 {
		return 0, "", newErr("parseStatusLine", KindProtocol, fmt.Sprintf("invalid status code %q", statusBytes), err)
	}
	return status, string(reasonBytes), nil
}

func parseHeaderLine(line []byte) (string, string, error) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", newErr("parseHeaderLine", KindProtocol, fmt.Sprintf("malformed header line %q", line), nil)
	}
	name := string(bytes.TrimSpace(line[:colon]))
	value := string(bytes.TrimSpace(line[colon+1:]))
	return name, value, nil
}

// writeRequestHead serializes the request line and headers per spec.md
// §4.3's wire layout. Header synthesis (Content-Length/Transfer-Encoding)
// has already happened by the time this is called; writeRequestHead only
// emits bytes.
func writeRequestHead(w io.Writer, req Request) error {
	if _, err := io.WriteString(w, req.Method); err != nil {
		return err
	}
	if _, err := io.WriteString(w, " "); err != nil {
		return err
	}
	if _, err := io.WriteString(w, req.Target); err != nil {
		return err
	}
	if _, err := io.WriteString(w, " HTTP/1.1\r\n"); err != nil {
		return err
	}
	for _, h := range req.Headers.All() {
		if _, err := io.WriteString(w, h.Name); err != nil {
			return err
		}
		if _, err := io.WriteString(w, ": "); err != nil {
			return err
		}
		if _, err := io.WriteString(w, h.Value); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
