// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"github.com/coreos/go-systemd/activation"
	"github.com/danos/mgmterror"
	"github.com/danos/utils/audit"
	"github.com/danos/utils/tty"

	"github.com/danos/netconfd"
	"github.com/danos/netconfd/rpc"
)

// Listen opens the configured client socket: a filesystem-path stream
// socket or a TCP listener, per spec §6 "Client socket". For a local
// socket it applies the 0770/group-settable permissions spec §6 calls
// for. If the process was started under systemd socket activation
// (LISTEN_FDS set), that listener is reused instead, matching the
// teacher's own cmd/configd/main.go getListeners (go-systemd's
// activation.Listeners, falling back to a fresh net.Listen).
func Listen(cfg *netconfd.Config) (net.Listener, error) {
	if ls, err := activation.Listeners(true); err == nil && len(ls) > 0 {
		return ls[0], nil
	}

	switch cfg.SockFamily {
	case "", "local":
		os.Remove(cfg.SockPath)
		l, err := net.Listen("unix", cfg.SockPath)
		if err != nil {
			return nil, err
		}
		if err := chownGroup(cfg.SockPath, cfg.SockGroup); err != nil {
			return nil, err
		}
		return l, nil
	case "ipv4":
		addr := cfg.SockPath
		if addr == "" {
			addr = "0.0.0.0"
		}
		return net.Listen("tcp", addr+":"+portString(cfg.SockPort))
	default:
		return nil, errors.New("unknown sock-family: " + cfg.SockFamily)
	}
}

func portString(p int) string {
	if p == 0 {
		p = 830 // RFC 6241's well-known NETCONF-over-SSH port as the default
	}
	b := make([]byte, 0, 5)
	return string(appendInt(b, p))
}

func appendInt(b []byte, v int) []byte {
	if v == 0 {
		return append(b, '0')
	}
	var tmp [8]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, tmp[i:]...)
}

// Serve runs the accept loop: for every new connection it resolves the
// peer's identity (local sockets only) and registers it with mgr, per
// spec §4.6 "Accepts stream-socket connections... Creates a client
// entry, registers the socket... receives length-framed messages."
// Grounded in the teacher's own Srv.Serve (server/server.go): accept,
// then a goroutine per connection.
func Serve(l net.Listener, mgr *Manager, elog *log.Logger) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return err
		}

		username, super := "", false
		var loginUid uint32
		var ttyName string
		if uc, ok := conn.(*net.UnixConn); ok {
			u, _, pid, s, cerr := resolvePeerUser(uc)
			if cerr != nil && elog != nil {
				elog.Printf("peer credential resolution failed: %v", cerr)
			}
			username, super = u, s
			if pid > 0 {
				if lu, aerr := audit.GetPidLoginuid(pid); aerr == nil {
					loginUid = lu
				}
				if tn, terr := tty.TtyNameForPid(int(pid)); terr == nil {
					ttyName = tn
				}
			}
		}
		mgr.Accept(conn, username, super, loginUid, ttyName)
	}
}

// ReadFramed is the exported form of readFramed, for client.Client and
// diagnostic tooling that speaks the same wire framing without going
// through a Manager.
func ReadFramed(r io.Reader) ([]byte, error) { return readFramed(r) }

// WriteFramed is the exported form of writeFramed.
func WriteFramed(w io.Writer, body []byte) error { return writeFramed(w, body) }

// readFramed reads one length-prefixed, NUL-terminated message (spec
// §6: "Messages are NUL-terminated XML fragments prefixed by total
// length"): a 4-byte big-endian length, the message bytes, and a
// trailing NUL the length includes.
func readFramed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > 64<<20 {
		return nil, errors.New("invalid frame length")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if body[len(body)-1] != 0 {
		return nil, errors.New("frame missing NUL terminator")
	}
	return body[:len(body)-1], nil
}

func writeFramed(w io.Writer, body []byte) error {
	framed := make([]byte, 4+len(body)+1)
	binary.BigEndian.PutUint32(framed[:4], uint32(len(body)+1))
	copy(framed[4:], body)
	framed[len(framed)-1] = 0
	_, err := w.Write(framed)
	return err
}

// encodeReply renders a dispatcher Reply as the single <rpc-reply>
// element of spec §4.5, with exactly one <ok/>, a payload, or one or
// more <rpc-error> elements.
func encodeReply(r *rpc.Reply) ([]byte, error) {
	var b strings.Builder
	b.WriteString(`<rpc-reply message-id="`)
	b.WriteString(xmlEscape(r.MessageID))
	b.WriteString(`" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">`)

	switch {
	case len(r.Errors) > 0:
		for _, e := range r.Errors {
			b.WriteString("<rpc-error>")
			b.WriteString("<error-type>application</error-type>")
			b.WriteString("<error-severity>error</error-severity>")
			msg, path := e.Error(), ""
			if fe, ok := e.(mgmterror.Formattable); ok {
				if fe.GetMessage() != "" {
					msg = fe.GetMessage()
				}
				path = fe.GetPath()
			}
			b.WriteString("<error-message>")
			b.WriteString(xmlEscape(msg))
			b.WriteString("</error-message>")
			if path != "" {
				b.WriteString("<error-path>")
				b.WriteString(xmlEscape(path))
				b.WriteString("</error-path>")
			}
			b.WriteString("</rpc-error>")
		}
	case r.Payload != nil:
		b.Write(r.Payload)
	default:
		b.WriteString("<ok/>")
	}

	b.WriteString("</rpc-reply>")
	return []byte(b.String()), nil
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return replacer.Replace(s)
}
