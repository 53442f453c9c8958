package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aethra/lowcode/internal/meta"
)

// Kind is the operation a controller binding performs
type Kind string

const (
	KindList   Kind = "list"
	KindGet    Kind = "get"
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindAction Kind = "action"
)

// Binding exposes a gin handler as a callable. The registration table is
// built at startup; the handler runs against a synthesised request and
// response recorder.
type Binding struct {
	Controller  string
	Method      string
	Kind        Kind
	Handler     gin.HandlerFunc
	Plural      string
	Singular    string
	Description string
	// Param is the route parameter carrying the identifier; "id" by default.
	Param       string
	InputSchema map[string]interface{}
}

// Names returns the canonical name followed by the aliases
func (b Binding) Names() []string {
	if b.Controller == "" || b.Method == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(b.Controller + "_" + b.Method)
	switch b.Kind {
	case KindList:
		if b.Plural != "" {
			add("get" + meta.Capitalize(b.Plural))
			add("list" + meta.Capitalize(b.Plural))
		}
	case KindGet:
		if b.Singular != "" {
			add("get" + meta.Capitalize(b.Singular))
		}
	}
	add(b.Method)
	add(strings.ToLower(b.Method))
	return out
}

func (b Binding) param() string {
	if b.Param != "" {
		return b.Param
	}
	return "id"
}

func (b Binding) describe() string {
	if b.Description != "" {
		return b.Description
	}
	return fmt.Sprintf("%s %s (%s)", b.Controller, b.Method, b.Kind)
}

func (b Binding) schema() map[string]interface{} {
	if b.InputSchema != nil {
		return b.InputSchema
	}
	switch b.Kind {
	case KindList:
		return Schema(map[string]string{"page": "integer", "limit": "integer", "filter": "string"})
	case KindGet, KindDelete:
		return Schema(map[string]string{b.param() + "!": "string"})
	case KindUpdate:
		return Schema(map[string]string{b.param() + "!": "string", "data": "object"})
	}
	return Schema(nil)
}

type callerKey struct{}

// WithCaller attaches the calling user to ctx; bound handlers see it as the
// "user_id" context value.
func WithCaller(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// CallerFrom returns the user attached by WithCaller
func CallerFrom(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(callerKey{}).(uint)
	return id, ok
}

// callable wraps the handler into a Func. Any 2xx status is a success.
func (b Binding) callable(engine *gin.Engine) Func {
	return func(ctx context.Context, args Args) (Result, error) {
		req, params, err := b.request(ctx, args)
		if err != nil {
			return Result{}, err
		}

		rec := httptest.NewRecorder()
		c := gin.CreateTestContextOnly(rec, engine)
		c.Request = req
		c.Params = params
		if id, ok := CallerFrom(ctx); ok {
			c.Set("user_id", id)
		}
		b.Handler(c)
		return decodeRecorded(rec), nil
	}
}

// request maps args onto the request shape the handler kind expects
func (b Binding) request(ctx context.Context, args Args) (*http.Request, gin.Params, error) {
	path := "/" + strings.ToLower(b.Controller)
	id := args.String(b.param(), "id")
	var params gin.Params
	if id != "" {
		params = gin.Params{{Key: b.param(), Value: id}}
		path += "/" + url.PathEscape(id)
	}

	var method string
	var body interface{}
	switch b.Kind {
	case KindList:
		q := url.Values{}
		for k, v := range args {
			switch v.(type) {
			case map[string]interface{}, []interface{}, nil:
				continue
			}
			q.Set(k, fmt.Sprint(v))
		}
		req := httptest.NewRequest(http.MethodGet, path+"?"+q.Encode(), nil).WithContext(ctx)
		return req, params, nil
	case KindGet:
		method = http.MethodGet
	case KindDelete:
		method = http.MethodDelete
	case KindCreate:
		method, body = http.MethodPost, map[string]interface{}(args)
	case KindUpdate:
		method = http.MethodPut
		if data, ok := args["data"].(map[string]interface{}); ok {
			body = data
		} else {
			body = args.Without(b.param(), "id")
		}
	default:
		method, body = http.MethodPost, map[string]interface{}(args)
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader).WithContext(ctx)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, params, nil
}

// decodeRecorded turns a recorded response into a Result
func decodeRecorded(rec *httptest.ResponseRecorder) Result {
	ok := rec.Code >= 200 && rec.Code < 300
	res := Result{Success: ok}

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		if text := strings.TrimSpace(rec.Body.String()); text != "" {
			res.Data = text
		}
		res.Message = http.StatusText(rec.Code)
		return res
	}

	if msg, _ := payload["message"].(string); msg != "" {
		res.Message = msg
	} else if msg, _ := payload["error"].(string); msg != "" {
		res.Message = msg
	} else {
		res.Message = http.StatusText(rec.Code)
	}
	if data, found := payload["data"]; found {
		res.Data = data
	} else {
		rest := make(map[string]interface{}, len(payload))
		for k, v := range payload {
			if k != "success" && k != "message" && k != "error" {
				rest[k] = v
			}
		}
		if len(rest) > 0 {
			res.Data = rest
		}
	}
	return res
}
