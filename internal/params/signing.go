package params

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/whspr/klingfisher/internal/hmac"
)

// hmacParam is the query parameter carrying the signature
const hmacParam = "hmac"

// HMAC signs path and query, returning the url with the signature appended as ?hmac=
func HMAC(h *hmac.HMAC, path string, query url.Values) (string, error) {
	signed := cloneValues(query)
	signed.Del(hmacParam)

	mac, err := h.Create(path + BuildQuery(signed))
	if err != nil {
		return "", err
	}

	signed.Set(hmacParam, mac)
	return path + BuildQuery(signed), nil
}

// ValidateHMAC reports whether the request carries a valid signature of its path and other query parameters
func ValidateHMAC(h *hmac.HMAC, r *http.Request) (bool, error) {
	query := r.URL.Query()

	mac := query.Get(hmacParam)
	if mac == "" {
		return false, nil
	}
	query.Del(hmacParam)

	return h.Validate(r.URL.Path+BuildQuery(query), mac)
}

// BuildQuery encodes the first value of every key as a query string, sorted by key.
// Unlike url.Values.Encode, keys without a value are encoded as "key" rather than "key=",
// matching how ?grayscale and ?blur are written.
func BuildQuery(v url.Values) string {
	if len(v) == 0 {
		return ""
	}

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}

		b.WriteString(url.QueryEscape(key))
		if value := v.Get(key); value != "" {
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}

	return b.String()
}

func cloneValues(v url.Values) url.Values {
	c := make(url.Values, len(v))
	for k, values := range v {
		c[k] = append([]string(nil), values...)
	}

	return c
}
