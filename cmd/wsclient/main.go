// Command wsclient is the reference client: it streams a raw PCM file to a
// whisperstream server, prints each recognition result as it arrives, and
// finally prints the assembled transcript.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/yc7764/whisperstream/internal/protocol"
)

// chunkSize is 100 ms of 16 kHz 16-bit mono PCM per %s frame.
const chunkSize = 3200

func main() {
	os.Exit(run())
}

func run() int {
	ip := pflag.String("ip", "", "server address (required)")
	port := pflag.Int("port", 5000, "server port")
	ifn := pflag.String("ifn", "", "input PCM file, 16-bit LE mono")
	user := pflag.String("user", "wsclient", "username sent at login")
	status := pflag.Bool("status", false, "query engine status instead of streaming")
	pflag.Parse()

	if *ip == "" {
		fmt.Fprintln(os.Stderr, "wsclient: --ip is required")
		pflag.Usage()
		return 2
	}
	if !*status && *ifn == "" {
		fmt.Fprintln(os.Stderr, "wsclient: --ifn is required")
		pflag.Usage()
		return 2
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(*ip, strconv.Itoa(*port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsclient: %v\n", err)
		return 1
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(protocol.Magic)); err != nil {
		fmt.Fprintf(os.Stderr, "wsclient: handshake: %v\n", err)
		return 1
	}

	if *status {
		err = queryStatus(conn)
	} else {
		err = stream(conn, *ifn, *user)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsclient: %v\n", err)
		return 1
	}
	return 0
}

// queryStatus sends %c and prints one line per engine.
func queryStatus(conn net.Conn) error {
	if err := protocol.WriteFrame(conn, protocol.CodeStatus, nil); err != nil {
		return err
	}
	for {
		f, err := protocol.ReadFrame(conn)
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		switch f.Code {
		case protocol.CodeEngineStatus:
			fmt.Printf("%s\n", f.Payload)
		case protocol.CodeFinal:
			return nil
		default:
			return fmt.Errorf("unexpected frame %s", f.Code)
		}
	}
}

// stream logs in, streams the file in chunkSize pieces, and collects results
// until the server's terminator.
func stream(conn net.Conn, path, user string) error {
	if err := protocol.WriteFrame(conn, protocol.CodeUser, []byte(user)); err != nil {
		return err
	}
	welcome, err := protocol.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Code != protocol.CodeLogin {
		return fmt.Errorf("expected %s, got %s %q", protocol.CodeLogin, welcome.Code, welcome.Payload)
	}
	fmt.Printf("<< %s\n", welcome.Payload)

	if err := protocol.WriteFrame(conn, protocol.CodeBegin, nil); err != nil {
		return err
	}
	if err := sendFile(conn, path); err != nil {
		return err
	}
	if err := protocol.WriteFrame(conn, protocol.CodeFinish, nil); err != nil {
		return err
	}

	var transcript []string
	for {
		f, err := protocol.ReadFrame(conn)
		if err != nil {
			return fmt.Errorf("read result: %w", err)
		}
		switch f.Code {
		case protocol.CodeResult:
			line := string(f.Payload)
			fmt.Printf("<< %s\n", line)
			// Results look like "0.0 3.0 : text"; keep just the text.
			if _, text, ok := strings.Cut(line, " : "); ok {
				transcript = append(transcript, text)
			}
		case protocol.CodeError:
			fmt.Fprintf(os.Stderr, "server error: %s\n", f.Payload)
		case protocol.CodeFinal:
			if len(f.Payload) > 0 {
				fmt.Fprintf(os.Stderr, "server closed session: %s\n", f.Payload)
			}
			fmt.Println(strings.Join(transcript, " "))
			return nil
		default:
			return fmt.Errorf("unexpected frame %s", f.Code)
		}
	}
}

func sendFile(conn net.Conn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := protocol.WriteFrame(conn, protocol.CodeSpeech, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}
