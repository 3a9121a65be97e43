package fetch

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPFetcher retrieves a single file over SFTP at the path component of the
// Source URL.
type SFTPFetcher struct {
	dialTimeout time.Duration
}

func NewSFTPFetcher(dialTimeout time.Duration) *SFTPFetcher {
	return &SFTPFetcher{dialTimeout: dialTimeout}
}

func (f *SFTPFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "parse url: " + err.Error(), Err: err}
	}

	host := u.Host
	if u.Port() == "" {
		host = u.Host + ":22"
	}

	cfg := &ssh.ClientConfig{
		User:            src.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(src.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         f.dialTimeout,
	}

	dialer := &net.Dialer{Timeout: f.dialTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{Kind: ErrKindTimeout, Reason: err.Error(), Err: err}
		}
		return nil, &Error{Kind: ErrKindFetch, Reason: "dial: " + err.Error(), Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, host, cfg)
	if err != nil {
		tcpConn.Close()
		return nil, &Error{Kind: ErrKindFetch, Reason: "ssh handshake: " + err.Error(), Err: err}
	}
	conn := ssh.NewClient(sshConn, chans, reqs)
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "sftp client: " + err.Error(), Err: err}
	}
	defer client.Close()

	file, err := client.Open(u.Path)
	if err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "open: " + err.Error(), Err: err}
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "read: " + err.Error(), Err: err}
	}
	return buf.Bytes(), nil
}
