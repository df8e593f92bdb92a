package prediction

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/spf13/cast"
)

// PaymentIDExtractor pulls a payment id from one place in a notification.
type PaymentIDExtractor struct {
	Source  string
	Extract func(query url.Values, body map[string]interface{}) string
}

// DefaultExtractors are tried in order; the first non-empty id wins.
var DefaultExtractors = []PaymentIDExtractor{
	{Source: "query:data.id", Extract: queryParam("data.id")},
	{Source: "query:id", Extract: queryParam("id")},
	{Source: "body:id", Extract: bodyField("id")},
	{Source: "body:data.id", Extract: bodyField("data", "id")},
}

// ExtractPaymentID returns the id and the extractor that found it, or two
// empty strings when no extractor matched.
func ExtractPaymentID(query url.Values, rawBody []byte, extractors []PaymentIDExtractor) (string, string) {
	body := decodeBody(rawBody)
	for _, ex := range extractors {
		if id := strings.TrimSpace(ex.Extract(query, body)); id != "" {
			return id, ex.Source
		}
	}
	return "", ""
}

func decodeBody(raw []byte) map[string]interface{} {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return nil
	}
	return body
}

func queryParam(name string) func(url.Values, map[string]interface{}) string {
	return func(q url.Values, _ map[string]interface{}) string {
		if q == nil {
			return ""
		}
		return q.Get(name)
	}
}

func bodyField(path ...string) func(url.Values, map[string]interface{}) string {
	return func(_ url.Values, body map[string]interface{}) string {
		var cur interface{} = body
		for _, key := range path {
			m, ok := cur.(map[string]interface{})
			if !ok {
				return ""
			}
			cur = m[key]
		}
		return scalarString(cur)
	}
}

// scalarString accepts JSON strings and numbers only.
func scalarString(v interface{}) string {
	switch t := v.(type) {
	case nil, bool, map[string]interface{}, []interface{}:
		return ""
	case json.Number:
		return t.String()
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}
