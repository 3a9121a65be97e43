package fetch

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPFetcher retrieves a single file over FTP at the path component of the
// Source URL: open connection, retrieve the file, close.
type FTPFetcher struct {
	dialTimeout time.Duration
}

func NewFTPFetcher(dialTimeout time.Duration) *FTPFetcher {
	return &FTPFetcher{dialTimeout: dialTimeout}
}

func (f *FTPFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "parse url: " + err.Error(), Err: err}
	}

	host := u.Host
	if u.Port() == "" {
		host = u.Host + ":21"
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.dialTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "dial: " + err.Error(), Err: err}
	}
	defer conn.Quit()

	user, pass := src.Username, src.Password
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "login: " + err.Error(), Err: err}
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "retr: " + err.Error(), Err: err}
	}
	defer resp.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp); err != nil {
		return nil, &Error{Kind: ErrKindFetch, Reason: "read: " + err.Error(), Err: err}
	}
	return buf.Bytes(), nil
}
