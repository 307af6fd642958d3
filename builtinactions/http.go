package builtinactions

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/value"
)

// registerHTTP adds the synchronous "http" action, built directly on
// net/http rather than a third-party client: none of the example repos in
// this corpus depend on an HTTP client library, and the teacher itself
// reaches for net/http directly wherever it needs one (runtime/a2a/
// httpclient/client.go, runtime/mcp/ssecaller.go, features/mcp/runtime/
// httpcaller.go), so that is the idiom this action follows.
func registerHTTP(reg *action.Registry) {
	client := &http.Client{Timeout: 30 * time.Second}

	reg.Register(&action.Definition{
		Name:     "http",
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "method", Kind: action.ParamRendered, Default: defaultString("GET")},
			{Name: "url", Kind: action.ParamRendered},
			{Name: "body", Kind: action.ParamRendered, Default: defaultString("")},
			{Name: "headers", Kind: action.ParamRendered, Default: defaultValue(value.Map(nil))},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			methodVal, _ := args.Value("method")
			method, _ := methodVal.AsString()
			if method == "" {
				method = http.MethodGet
			}
			urlVal, _ := args.Value("url")
			url, _ := urlVal.AsString()
			bodyVal, _ := args.Value("body")
			body, _ := bodyVal.AsString()

			req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bytes.NewReader([]byte(body)))
			if err != nil {
				return value.Null, err
			}
			if headersVal, ok := args.Value("headers"); ok {
				if headers, ok := headersVal.AsMap(); ok {
					for k, v := range headers {
						if s, ok := v.AsString(); ok {
							req.Header.Set(k, s)
						}
					}
				}
			}

			resp, err := client.Do(req)
			if err != nil {
				return value.Null, err
			}
			defer func() { _ = resp.Body.Close() }()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return value.Null, err
			}

			return value.Map(map[string]value.Value{
				"status_code": value.Number(float64(resp.StatusCode)),
				"body":        value.String(string(respBody)),
			}), nil
		},
	})
}

func defaultValue(v value.Value) *value.Value { return &v }
