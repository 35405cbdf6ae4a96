package zotero

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strconv"
)

// LibraryType distinguishes user and group libraries.
type LibraryType string

const (
	UserLibrary  LibraryType = "user"
	GroupLibrary LibraryType = "group"
)

// Library scopes requests to one user or group library. Params and Header
// are sent with every request made through the library.
type Library struct {
	Client *Client
	Type   LibraryType
	ID     int64
	Key    string
	Params url.Values
	Header http.Header
}

// NewUserLibrary returns the library of user id, authenticated with key.
func NewUserLibrary(c *Client, id int64, key string) *Library {
	return &Library{Client: c, Type: UserLibrary, ID: id, Key: key}
}

// NewGroupLibrary returns the library of group id, authenticated with key.
func NewGroupLibrary(c *Client, id int64, key string) *Library {
	return &Library{Client: c, Type: GroupLibrary, ID: id, Key: key}
}

// Prefix is the library's API path prefix, e.g. "/users/475425".
func (l *Library) Prefix() string {
	if l.ID == 0 || l.Type == "" {
		return "/"
	}
	return "/" + string(l.Type) + "s/" + strconv.FormatInt(l.ID, 10)
}

// Path joins target segments onto the library prefix.
func (l *Library) Path(target ...string) string {
	return path.Join(append([]string{l.Prefix()}, target...)...)
}

// Get queues a GET request for target within the library. params are merged
// over the library's Params. The library key is sent as a bearer token
// unless params carry "key" or the library Header sets Authorization.
func (l *Library) Get(ctx context.Context, target string, params url.Values, cb Callback) *Message {
	query := cloneValues(l.Params)
	for k, vs := range params {
		query[k] = append([]string(nil), vs...)
	}
	header := l.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if l.Key != "" && query.Get("key") == "" && header.Get("Authorization") == "" {
		header.Set("Authorization", "Bearer "+l.Key)
	}
	return l.Client.Request(ctx, RequestOptions{
		Method: http.MethodGet,
		Path:   l.Path(target),
		Query:  query,
		Header: header,
	}, nil, cb)
}

// Topic is the stream topic that reports changes to the library.
func (l *Library) Topic() string { return l.Prefix() }

// Subscription returns the stream subscription for the library's topic.
func (l *Library) Subscription() Subscription {
	return Subscription{APIKey: l.Key, Topics: []string{l.Topic()}}
}
