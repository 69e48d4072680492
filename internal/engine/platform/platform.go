// Package platform is the boundary between the engine and the messaging
// platform SDK. Services talk to Conn and inspect *Error kinds; nothing
// above this package imports the SDK.
package platform

import (
	"context"
	"io"
	"net"
	"time"
)

// Credentials identify an account to the platform.
type Credentials struct {
	APIID    int
	APIHash  string
	Phone    string
	BotToken string
}

// SessionStorage persists the SDK's opaque session material. Load returns
// nil data and a nil error when there is no session yet.
type SessionStorage interface {
	Load(ctx context.Context) ([]byte, error)
	Store(ctx context.Context, data []byte) error
}

// DialFunc opens a transport connection, normally through a proxy.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Endpoint is everything needed to open one connection for one account.
type Endpoint struct {
	Credentials Credentials
	Session     SessionStorage
	Dial        DialFunc
}

// Client opens connections. Run keeps the connection alive while fn runs
// and closes it when fn returns.
type Client interface {
	Run(ctx context.Context, ep Endpoint, fn func(ctx context.Context, c Conn) error) error
}

// Conn is one live, authenticated (or authenticating) connection. It is not
// safe for concurrent use.
type Conn interface {
	// SendCode requests a login code and returns the code hash.
	SendCode(ctx context.Context, phone string) (string, error)
	// SignIn completes a code login. A KindPasswordRequired error means the
	// account has a second factor.
	SignIn(ctx context.Context, phone, code, codeHash string) error
	CheckPassword(ctx context.Context, password string) error
	BotLogin(ctx context.Context, token string) error
	// Self returns the logged in user; a KindUnauthorized error means the
	// session is not (or no longer) authorized.
	Self(ctx context.Context) (*User, error)
	LogOut(ctx context.Context) error

	SendMessage(ctx context.Context, target string, msg Message) error
	Join(ctx context.Context, target string) error
	// History returns up to limit items older than the offset token, newest
	// first. An empty offset starts at the newest item.
	History(ctx context.Context, target, offset string, limit int) (*Page, error)
	Download(ctx context.Context, m *Media, w io.Writer) error
}

type User struct {
	ID       int64
	Username string
	Phone    string
	Bot      bool
}

type Message struct {
	Text      string
	MediaPath string
}

// Page is one batch of history. Next is the offset of the following page;
// Done reports that the source has no older items.
type Page struct {
	Items []Item
	Next  string
	Done  bool
}

type Item struct {
	ID    string
	Text  string
	Date  time.Time
	Media *Media
}

// Media references a downloadable attachment. Ref is adapter specific.
type Media struct {
	ID   string
	Ext  string
	Size int64
	Ref  any
}
