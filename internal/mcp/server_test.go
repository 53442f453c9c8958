package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethra/lowcode/internal/functions"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := functions.NewRegistry(nil)
	require.NoError(t, reg.Register(functions.Tool{
		Descriptor: functions.Descriptor{Name: "getModels", Description: "List models"},
		Aliases:    []string{"listarModelos"},
		Func: func(context.Context, functions.Args) (functions.Result, error) {
			return functions.Ok("2 models", []string{"pessoa", "endereco"})
		},
	}))
	require.NoError(t, reg.Register(functions.Tool{
		Descriptor: functions.Descriptor{Name: "getModel", Description: "Get one model"},
		Func: func(_ context.Context, args functions.Args) (functions.Result, error) {
			name, err := args.Require("name")
			if err != nil {
				return functions.Result{}, err
			}
			return functions.Ok("found "+name, nil)
		},
	}))
	return NewServer(reg, "lowcode", "test", nil)
}

func decode(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(context.Background(), Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	out := decode(t, resp)
	assert.Equal(t, float64(1), out["id"])
	result := out["result"].(map[string]interface{})
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
	assert.Equal(t, "lowcode", result["serverInfo"].(map[string]interface{})["name"])
}

func TestToolsListUsesCanonicalNames(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(context.Background(), Request{JSONRPC: "2.0", ID: json.RawMessage(`"a"`), Method: "tools/list"})
	require.NotNil(t, resp)

	tools := decode(t, resp)["result"].(map[string]interface{})["tools"].([]interface{})
	require.Len(t, tools, 2)
	names := []string{}
	for _, tool := range tools {
		names = append(names, tool.(map[string]interface{})["name"].(string))
		assert.Contains(t, tool, "inputSchema")
	}
	assert.Equal(t, []string{"getModels", "getModel"}, names)
}

func TestToolsCall(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  string
		isError bool
		message string
	}{
		{"canonical", `{"name":"getModels","arguments":{}}`, false, "2 models"},
		{"alias", `{"name":"listarModelos"}`, false, "2 models"},
		{"arguments", `{"name":"getModel","arguments":{"name":"pessoa"}}`, false, "found pessoa"},
		{"handler error", `{"name":"getModel","arguments":{}}`, true, "name"},
		{"unknown tool", `{"name":"nope"}`, true, "getModels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.Handle(ctx, Request{JSONRPC: "2.0", ID: json.RawMessage(`7`), Method: "tools/call", Params: json.RawMessage(tt.params)})
			require.NotNil(t, resp)
			require.Nil(t, resp.Error)

			result := resp.Result.(CallResult)
			assert.Equal(t, tt.isError, result.IsError)
			require.Len(t, result.Content, 1)
			assert.Equal(t, "text", result.Content[0].Type)

			var inner functions.Result
			require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &inner))
			assert.Equal(t, !tt.isError, inner.Success)
			assert.Contains(t, inner.Message, tt.message)
		})
	}
}

func TestErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	resp := s.Handle(ctx, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "resources/list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	resp = s.Handle(ctx, Request{JSONRPC: "1.0", ID: json.RawMessage(`1`), Method: "tools/list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	for _, params := range []string{``, `{"arguments":{}}`, `[1,2]`} {
		resp = s.Handle(ctx, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(params)})
		require.NotNil(t, resp.Error, params)
		assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	}
}

func TestNotificationsGetNoResponse(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	assert.Nil(t, s.Handle(ctx, Request{JSONRPC: "2.0", Method: "notifications/initialized"}))
	assert.Nil(t, s.Handle(ctx, Request{JSONRPC: "2.0", Method: "tools/list"}))
	assert.Nil(t, s.Handle(ctx, Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "notifications/cancelled"}))
}

func TestHandlePayload(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	out, ok := s.HandlePayload(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":`))
	require.True(t, ok)
	assert.Equal(t, CodeParseError, out.(*Response).Error.Code)
	body := decode(t, out)
	assert.Contains(t, body, "id")
	assert.Nil(t, body["id"])

	_, ok = s.HandlePayload(ctx, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.False(t, ok)

	out, ok = s.HandlePayload(ctx, []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"getModels"}}
	]`))
	require.True(t, ok)
	batch := out.([]*Response)
	require.Len(t, batch, 2)
	assert.Equal(t, "2", string(batch[1].ID))

	out, ok = s.HandlePayload(ctx, []byte(`[]`))
	require.True(t, ok)
	assert.Equal(t, CodeInvalidRequest, out.(*Response).Error.Code)

	assert.NotEqual(t, NewSessionID(), NewSessionID())
}
