package oauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedURL is returned when the request URL cannot be signed.
var ErrMalformedURL = errors.New("oauth: malformed request URL")

const (
	signatureMethod = "HMAC-SHA1"
	version         = "1.0"
	scheme          = "OAuth"
)

// Credentials holds the consumer and access token pairs used to sign requests.
type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// Param is a single oauth_* protocol parameter.
type Param struct {
	Key   string
	Value string
}

// Header is the ordered set of protocol parameters carried in an
// Authorization header, including oauth_signature.
type Header []Param

// Get returns the value of the named parameter.
func (h Header) Get(key string) (string, bool) {
	for _, p := range h {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// String serialises the header as `OAuth k1="v1", k2="v2", ...`.
func (h Header) String() string {
	pairs := make([]string, 0, len(h))
	for _, p := range h {
		pairs = append(pairs, PercentEncode(p.Key)+`="`+PercentEncode(p.Value)+`"`)
	}
	return scheme + " " + strings.Join(pairs, ", ")
}

// Option customises a Signer.
type Option func(*Signer)

// WithClock overrides the source of oauth_timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// WithNonce overrides the source of oauth_nonce.
func WithNonce(nonce func() (string, error)) Option {
	return func(s *Signer) {
		s.nonce = nonce
	}
}

// Signer builds OAuth 1.0a HMAC-SHA1 Authorization header values.
type Signer struct {
	creds Credentials
	now   func() time.Time
	nonce func() (string, error)
}

// NewSigner creates a signer for the given credentials.
func NewSigner(creds Credentials, opts ...Option) *Signer {
	s := &Signer{
		creds: creds,
		now:   time.Now,
		nonce: defaultNonce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign returns the Authorization header value for a request.
func (s *Signer) Sign(method, rawURL string) (string, error) {
	h, err := s.Header(method, rawURL)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// Header computes the protocol parameters, including the signature, for a
// request. Each call uses a fresh timestamp and nonce.
func (s *Signer) Header(method, rawURL string) (Header, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q needs a scheme and host", ErrMalformedURL, rawURL)
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrMalformedURL, err)
	}

	nonce, err := s.nonce()
	if err != nil {
		return nil, fmt.Errorf("oauth: generate nonce: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": signatureMethod,
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            s.creds.AccessToken,
		"oauth_version":          version,
	}

	allParams := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			allParams.Add(k, v)
		}
	}
	for k, v := range oauthParams {
		allParams.Set(k, v)
	}

	base := BaseString(method, u, allParams)
	oauthParams["oauth_signature"] = signature(signingKey(s.creds), base)

	h := make(Header, 0, len(oauthParams))
	for k, v := range oauthParams {
		h = append(h, Param{Key: k, Value: v})
	}
	sort.Slice(h, func(i, j int) bool { return h[i].Key < h[j].Key })
	return h, nil
}

// BaseString builds the signature base string described in RFC 5849
// section 3.4.1. Any query on u is ignored; pass it through params instead.
func BaseString(method string, u *url.URL, params url.Values) string {
	return strings.ToUpper(method) + "&" + PercentEncode(baseURL(u)) + "&" + PercentEncode(NormalizeParams(params))
}

// NormalizeParams encodes each pair, sorts by key then value, and joins them
// with '&'.
func NormalizeParams(params url.Values) string {
	pairs := make([][2]string, 0, len(params))
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, [2]string{PercentEncode(k), PercentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}

// PercentEncode applies RFC 3986 encoding: unreserved characters pass
// through, every other byte becomes %XX with uppercase hex.
func PercentEncode(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

func baseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func signingKey(c Credentials) string {
	return PercentEncode(c.ConsumerSecret) + "&" + PercentEncode(c.AccessTokenSecret)
}

func signature(key, base string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// defaultNonce returns 32 hex characters from a random UUID.
func defaultNonce() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
